package model

import (
	"math"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-helix/internal/config"
	"github.com/23skdu/longbow-helix/internal/device"
	"github.com/23skdu/longbow-helix/internal/equivariant"
)

const tol = 1e-4

func requireClose(t *testing.T, expected, got []float32) {
	t.Helper()
	require.Len(t, got, len(expected))
	for i := range expected {
		if math.Abs(float64(expected[i]-got[i])) > tol {
			t.Fatalf("index %d: want %f, got %f", i, expected[i], got[i])
		}
	}
}

func testConfigs() map[string]config.Config {
	mlp := config.Default()

	attention := config.Default()
	attention.Mixer = config.MixerAttention
	attention.Norm = config.NormLayerNorm

	untied := config.Default()
	untied.TieEmbeddings = false
	untied.Mixer = config.MixerIdentity
	untied.Layers = 3

	noLayers := config.Default()
	noLayers.Layers = 0

	return map[string]config.Config{
		"MLP":       mlp,
		"Attention": attention,
		"Untied":    untied,
		"NoLayers":  noLayers,
	}
}

func TestModel_Shapes(t *testing.T) {
	m, err := New(config.Default(), device.NewCPUBackend())
	require.NoError(t, err)

	ids := []int{0, 1, 2, 3, 4, 0, 1}
	lengths := []int{4, 3}
	d := config.Default().DModel

	hidden := m.ForwardBatch(ids, lengths)
	r, c := hidden.Dims()
	require.Equal(t, 7, r)
	require.Equal(t, 2*d, c)

	logits := m.Logits(ids, lengths)
	r, c = logits.Dims()
	require.Equal(t, 7, r)
	require.Equal(t, m.VocabSize(), c)

	pooled := m.Pool(ids, lengths)
	r, c = pooled.Dims()
	require.Equal(t, 2, r)
	require.Equal(t, m.Dim(), c)
}

func TestModel_LogitsEquivariance(t *testing.T) {
	ids := []int{0, 1, 1, 3, 4, 2, 0, 3, 3}
	lengths := []int{5, 4}

	for name, cfg := range testConfigs() {
		t.Run(name, func(t *testing.T) {
			backend := device.NewCPUBackend()
			m, err := New(cfg, backend)
			require.NoError(t, err)

			rcIDs := m.Complement().ReverseComplementBatch(ids, lengths)

			logits := m.Logits(ids, lengths)
			rcLogits := m.Logits(rcIDs, lengths)

			expected := equivariant.RC(backend, logits, lengths)
			requireClose(t, expected.ToHost(), rcLogits.ToHost())
		})
	}
}

func TestModel_PoolInvariance(t *testing.T) {
	ids := []int{0, 1, 1, 3, 4, 2, 0, 3, 3}
	lengths := []int{5, 4}

	for name, cfg := range testConfigs() {
		t.Run(name, func(t *testing.T) {
			m, err := New(cfg, device.NewCPUBackend())
			require.NoError(t, err)

			rcIDs := m.Complement().ReverseComplementBatch(ids, lengths)
			requireClose(t, m.Pool(ids, lengths).ToHost(), m.Pool(rcIDs, lengths).ToHost())
		})
	}
}

func TestModel_SameSeedSameWeights(t *testing.T) {
	ids := []int{0, 3, 2}
	lengths := []int{3}

	a, err := New(config.Default(), device.NewCPUBackend())
	require.NoError(t, err)
	b, err := New(config.Default(), device.NewCPUBackend())
	require.NoError(t, err)

	require.Equal(t, a.Pool(ids, lengths).ToHost(), b.Pool(ids, lengths).ToHost())
}

func TestModel_TiedHeadSharesEmbedding(t *testing.T) {
	m, err := New(config.Default(), device.NewCPUBackend())
	require.NoError(t, err)
	require.True(t, m.LMHead.Tied())
	require.Same(t, m.Embedding.Weight(), m.LMHead.Weight())
}

func TestModel_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DModel = 9
	_, err := New(cfg, device.NewCPUBackend())
	require.ErrorIs(t, err, config.ErrInvalid)
}

func TestModel_LengthMismatchPanics(t *testing.T) {
	m, err := New(config.Default(), device.NewCPUBackend())
	require.NoError(t, err)
	require.Panics(t, func() { m.ForwardBatch([]int{0, 1, 2}, []int{2}) })
}

func TestMeanPool(t *testing.T) {
	backend := device.NewCPUBackend()
	x := backend.NewTensor(3, 2, []float32{
		1, 2,
		3, 4,
		10, 20,
	})

	out := meanPool(backend, x, []int{2, 1, 0})
	requireClose(t, []float32{
		2, 3,
		10, 20,
		0, 0,
	}, out.ToHost())
}

func TestModel_TokenCounter(t *testing.T) {
	m, err := New(config.Default(), device.NewCPUBackend())
	require.NoError(t, err)

	before := counterValue(t)
	m.ForwardBatch([]int{0, 1, 2, 3}, []int{4})
	require.Equal(t, before+4, counterValue(t))
}

func counterValue(t *testing.T) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, TokensProcessed.Write(&metric))
	return metric.GetCounter().GetValue()
}
