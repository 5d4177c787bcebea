// Package equivariant wraps embedding, mixing, normalization and output
// layers so that a model's outputs are reverse-complement (RC) equivariant
// by construction.
//
// An equivariant hidden tensor has an even channel count. The first half
// carries forward-strand features and the second half carries
// reverse-complement-strand features stored flipped, so that the strand
// swap of a tensor x is RC(x): reverse the token order of every sequence
// and reverse the channel order.
//
// For every wrapper f in this package, f(RC-input) == RC(f(input)), given
// an involutive complement map and wrapped submodules that act on each
// token independently of absolute position.
package equivariant
