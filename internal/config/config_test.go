package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-helix/internal/equivariant"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.VocabSize())

	m, err := cfg.ComplementMap()
	require.NoError(t, err)
	assert.True(t, m.Mirrored())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
vocab: [A, C, G, T]
complement: [3, 2, 1, 0]
d_model: 8
n_layers: 1
mixer: attention
heads: 4
norm: layernorm
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.VocabSize())
	assert.Equal(t, 8, cfg.DModel)
	assert.Equal(t, MixerAttention, cfg.Mixer)
	assert.Equal(t, NormLayerNorm, cfg.Norm)
	// untouched keys keep their defaults
	assert.Equal(t, Default().Seed, cfg.Seed)
	assert.Equal(t, Default().MaxBatchTokens, cfg.MaxBatchTokens)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"odd d_model", "d_model: 7"},
		{"unknown mixer", "mixer: conv"},
		{"unknown norm", "norm: batchnorm"},
		{"heads do not divide", "mixer: attention\nheads: 3"},
		{"complement length", "complement: [1, 0]"},
		{"zero eps", "norm_eps: 0"},
		{"zero batch", "max_batch_size: 0"},
		{"negative layers", "n_layers: -1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestParse_NotInvolution(t *testing.T) {
	_, err := Parse([]byte("complement: [1, 2, 0, 3, 4]"))
	require.ErrorIs(t, err, ErrInvalid)
	require.ErrorIs(t, err, equivariant.ErrNotInvolution)
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse([]byte("dmodel: 8"))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalid)
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Default().Marshal()
	require.NoError(t, err)

	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
