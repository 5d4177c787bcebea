package embeddings

import (
	"math/rand"
)

// GenerateSequences returns n random id sequences over [0, vocabSize) for
// demos and soak runs. Lengths vary uniformly in [length/2, length] so that
// batching sees ragged input. length must be positive. The same seed
// yields the same sequences.
func GenerateSequences(n, length, vocabSize int, seed int64) [][]int {
	r := rand.New(rand.NewSource(seed))
	result := make([][]int, n)

	minLen := max(length/2, 1)
	for i := range result {
		l := minLen + r.Intn(length-minLen+1)
		seq := make([]int, l)
		for j := range seq {
			seq[j] = r.Intn(vocabSize)
		}
		result[i] = seq
	}
	return result
}
