package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-helix/internal/cache"
	"github.com/23skdu/longbow-helix/internal/config"
	"github.com/23skdu/longbow-helix/internal/device"
	"github.com/23skdu/longbow-helix/internal/equivariant"
)

func newTestEmbedder(t testing.TB, batchSize int, c cache.VectorCache) *Embedder {
	t.Helper()
	cfg := config.Default()
	cfg.MaxBatchSize = batchSize
	e, err := NewEmbedder(cfg, device.NewCPUBackend(), c)
	require.NoError(t, err)
	return e
}

func requireClose(t *testing.T, expected, got []float32, tol float64) {
	t.Helper()
	require.Len(t, got, len(expected))
	for i := range expected {
		if math.Abs(float64(expected[i]-got[i])) > tol {
			t.Fatalf("index %d: want %f, got %f", i, expected[i], got[i])
		}
	}
}

func TestNewEmbedder(t *testing.T) {
	e := newTestEmbedder(t, 32, nil)
	assert.Equal(t, config.Default().DModel, e.Dim())
	assert.Equal(t, 5, e.VocabSize())
	assert.True(t, e.Complement().Mirrored())
}

func TestNewEmbedder_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Mixer = "conv"
	_, err := NewEmbedder(cfg, device.NewCPUBackend(), nil)
	require.ErrorIs(t, err, config.ErrInvalid)
}

func TestEmbedder_Validate(t *testing.T) {
	e := newTestEmbedder(t, 32, nil)

	require.NoError(t, e.Validate([][]int{{0, 1}, {4}}))
	require.ErrorIs(t, e.Validate([][]int{{0, 1}, {}}), ErrEmptySequence)
	require.ErrorIs(t, e.Validate([][]int{{0, 5}}), equivariant.ErrOutOfRange)

	_, err := e.ProxyEmbedBatch(context.Background(), [][]int{{0, 7}})
	require.ErrorIs(t, err, equivariant.ErrOutOfRange)
}

func TestEmbedder_ProxyEmbedBatch(t *testing.T) {
	e := newTestEmbedder(t, 2, nil)
	seqs := [][]int{
		{0, 1, 2, 3},
		{4, 4, 0},
		{1, 3, 3, 0, 2, 1},
	}

	vectors, err := e.ProxyEmbedBatch(context.Background(), seqs)
	require.NoError(t, err)
	require.Len(t, vectors, len(seqs)*e.Dim())

	// batching must not change results
	dim := e.Dim()
	for i, seq := range seqs {
		single, err := e.ProxyEmbedBatch(context.Background(), [][]int{seq})
		require.NoError(t, err)
		requireClose(t, single, vectors[i*dim:(i+1)*dim], 1e-4)
	}

	empty, err := e.ProxyEmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEmbedder_StrandInvariance(t *testing.T) {
	e := newTestEmbedder(t, 32, nil)
	seq := []int{0, 0, 1, 3, 2, 4, 1}
	rc := e.Complement().ReverseComplement(seq)

	vectors, err := e.ProxyEmbedBatch(context.Background(), [][]int{seq, rc})
	require.NoError(t, err)

	dim := e.Dim()
	requireClose(t, vectors[:dim], vectors[dim:], 1e-4)
}

func TestEmbedder_StreamOrder(t *testing.T) {
	e := newTestEmbedder(t, 2, nil)
	seqs := GenerateSequences(5, 8, e.VocabSize(), 1)

	var offsets, counts []int
	for chunk := range e.EmbedBatch(context.Background(), seqs) {
		require.NoError(t, chunk.Err)
		require.Len(t, chunk.Vectors, chunk.Count*e.Dim())
		offsets = append(offsets, chunk.Offset)
		counts = append(counts, chunk.Count)
	}

	assert.Equal(t, []int{0, 2, 4}, offsets)
	assert.Equal(t, []int{2, 2, 1}, counts)
}

func TestEmbedder_StreamValidationError(t *testing.T) {
	e := newTestEmbedder(t, 2, nil)

	var results []StreamResult
	for chunk := range e.EmbedBatch(context.Background(), [][]int{{0}, {}}) {
		results = append(results, chunk)
	}

	require.Len(t, results, 1)
	require.ErrorIs(t, results[0].Err, ErrEmptySequence)
}

func TestEmbedder_Logits(t *testing.T) {
	e := newTestEmbedder(t, 1, nil)
	seqs := [][]int{{0, 1, 2}, {3, 4}}

	logits, err := e.Logits(context.Background(), seqs)
	require.NoError(t, err)
	require.Len(t, logits, 2)
	assert.Len(t, logits[0], 3*e.VocabSize())
	assert.Len(t, logits[1], 2*e.VocabSize())

	// reverse complement reverses tokens and vocabulary
	rcLogits, err := e.Logits(context.Background(), [][]int{e.Complement().ReverseComplement(seqs[0])})
	require.NoError(t, err)

	reversed := make([]float32, len(logits[0]))
	for i, v := range logits[0] {
		reversed[len(reversed)-1-i] = v
	}
	requireClose(t, reversed, rcLogits[0], 1e-4)

	_, err = e.Logits(context.Background(), [][]int{{9}})
	require.ErrorIs(t, err, equivariant.ErrOutOfRange)
}

func TestEmbedder_LongSequencesStayFinite(t *testing.T) {
	e := newTestEmbedder(t, 4, nil)
	seqs := GenerateSequences(4, 512, e.VocabSize(), 7)

	vectors, err := e.ProxyEmbedBatch(context.Background(), seqs)
	require.NoError(t, err)
	for i, v := range vectors {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("non-finite value %f at %d", v, i)
		}
	}
}

func TestGenerateSequences(t *testing.T) {
	seqs := GenerateSequences(10, 20, 5, 3)
	require.Len(t, seqs, 10)
	for _, seq := range seqs {
		assert.GreaterOrEqual(t, len(seq), 10)
		assert.LessOrEqual(t, len(seq), 20)
		for _, id := range seq {
			assert.True(t, id >= 0 && id < 5)
		}
	}

	assert.Equal(t, seqs, GenerateSequences(10, 20, 5, 3))
	assert.Empty(t, GenerateSequences(0, 20, 5, 3))
	assert.Len(t, GenerateSequences(1, 1, 5, 3)[0], 1)
}

func BenchmarkEmbedder_ProxyEmbedBatch(b *testing.B) {
	e := newTestEmbedder(b, 32, nil)
	seqs := GenerateSequences(64, 128, e.VocabSize(), 1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.ProxyEmbedBatch(context.Background(), seqs)
	}
}
