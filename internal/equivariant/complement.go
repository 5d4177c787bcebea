package equivariant

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyMap is returned for a complement map over an empty vocabulary.
	ErrEmptyMap = errors.New("complement map is empty")
	// ErrOutOfRange is returned when a complement id falls outside the vocabulary.
	ErrOutOfRange = errors.New("complement id out of range")
	// ErrNotInvolution is returned when complementing twice does not give the original id.
	ErrNotInvolution = errors.New("complement map is not an involution")
	// ErrMissingID is returned when a sparse map leaves an id without a complement.
	ErrMissingID = errors.New("complement map is not total")
)

// ComplementMap maps every vocabulary id to its complementary id.
// Entry i holds the complement of id i. Treat it as read-only.
type ComplementMap []int

// NewComplementMap copies table and checks that it is a total involution
// over [0, len(table)).
func NewComplementMap(table []int) (ComplementMap, error) {
	c := make(ComplementMap, len(table))
	copy(c, table)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ComplementMapFromPairs builds a map from an id -> complement mapping that
// must cover every id in [0, vocabSize).
func ComplementMapFromPairs(pairs map[int]int, vocabSize int) (ComplementMap, error) {
	table := make([]int, vocabSize)
	for id := 0; id < vocabSize; id++ {
		comp, ok := pairs[id]
		if !ok {
			return nil, fmt.Errorf("%w: no complement for id %d", ErrMissingID, id)
		}
		table[id] = comp
	}
	if len(pairs) != vocabSize {
		return nil, fmt.Errorf("%w: %d entries for vocabulary of %d", ErrOutOfRange, len(pairs), vocabSize)
	}
	return NewComplementMap(table)
}

// MustComplementMap is like NewComplementMap but panics on invalid input.
func MustComplementMap(table []int) ComplementMap {
	c, err := NewComplementMap(table)
	if err != nil {
		panic(err)
	}
	return c
}

// DNAComplementMap returns the map for the vocabulary A, C, G, T
// (ids 0..3), i.e. {0:3, 1:2, 2:1, 3:0}.
func DNAComplementMap() ComplementMap {
	return ComplementMap{3, 2, 1, 0}
}

// Validate reports whether c is a total involution over its vocabulary.
func (c ComplementMap) Validate() error {
	if len(c) == 0 {
		return ErrEmptyMap
	}
	for id, comp := range c {
		if comp < 0 || comp >= len(c) {
			return fmt.Errorf("%w: id %d maps to %d (vocabulary size %d)", ErrOutOfRange, id, comp, len(c))
		}
		if c[comp] != id {
			return fmt.Errorf("%w: %d -> %d -> %d", ErrNotInvolution, id, comp, c[comp])
		}
	}
	return nil
}

// VocabSize returns the number of ids covered by the map.
func (c ComplementMap) VocabSize() int {
	return len(c)
}

// Complement returns the complement of id.
func (c ComplementMap) Complement(id int) int {
	return c[id]
}

// Mirrored reports whether every id i is paired with id V-1-i.
// EquivariantLMHead output is only strand-consistent for such vocabularies.
func (c ComplementMap) Mirrored() bool {
	n := len(c)
	for id, comp := range c {
		if comp != n-1-id {
			return false
		}
	}
	return n > 0
}

// ReverseComplement returns ids read backwards with every id complemented.
func (c ComplementMap) ReverseComplement(ids []int) []int {
	out := make([]int, len(ids))
	n := len(ids)
	for i, id := range ids {
		out[n-1-i] = c[id]
	}
	return out
}

// ReverseComplementBatch reverse-complements every sequence of a flattened
// batch independently. lengths must sum to len(ids).
func (c ComplementMap) ReverseComplementBatch(ids []int, lengths []int) []int {
	total := 0
	for _, l := range lengths {
		total += l
	}
	if total != len(ids) {
		panic(fmt.Sprintf("equivariant: lengths sum to %d, have %d ids", total, len(ids)))
	}

	out := make([]int, len(ids))
	offset := 0
	for _, l := range lengths {
		for i := 0; i < l; i++ {
			out[offset+l-1-i] = c[ids[offset+i]]
		}
		offset += l
	}
	return out
}

// CheckIDs returns an error if any id is outside the vocabulary.
func (c ComplementMap) CheckIDs(ids []int) error {
	for i, id := range ids {
		if id < 0 || id >= len(c) {
			return fmt.Errorf("%w: token %d at position %d (vocabulary size %d)", ErrOutOfRange, id, i, len(c))
		}
	}
	return nil
}
