// Package config holds the model and batching configuration of the
// encoder, loaded from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/23skdu/longbow-helix/internal/equivariant"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid config")

const (
	MixerMLP       = "mlp"
	MixerAttention = "attention"
	MixerIdentity  = "identity"

	NormLayerNorm = "layernorm"
	NormRMSNorm   = "rmsnorm"
)

// Config describes the RC-equivariant encoder.
type Config struct {
	// Vocab names each token id. Only its length matters to the model.
	Vocab []string `yaml:"vocab"`
	// Complement holds the complement id of every vocabulary id.
	Complement []int `yaml:"complement"`

	DModel        int     `yaml:"d_model"`
	Layers        int     `yaml:"n_layers"`
	Mixer         string  `yaml:"mixer"`
	Heads         int     `yaml:"heads"`
	MLPRatio      int     `yaml:"mlp_ratio"`
	Norm          string  `yaml:"norm"`
	NormEps       float32 `yaml:"norm_eps"`
	TieEmbeddings bool    `yaml:"tie_embeddings"`
	Seed          int64   `yaml:"seed"`

	MaxBatchSize   int `yaml:"max_batch_size"`
	MaxBatchTokens int `yaml:"max_batch_tokens"`
}

// Default returns a small nucleotide encoder over A, C, N, G, T.
// The vocabulary is ordered so that every id i pairs with id 4-i.
func Default() Config {
	return Config{
		Vocab:          []string{"A", "C", "N", "G", "T"},
		Complement:     []int{4, 3, 2, 1, 0},
		DModel:         16,
		Layers:         2,
		Mixer:          MixerMLP,
		Heads:          2,
		MLPRatio:       2,
		Norm:           NormRMSNorm,
		NormEps:        1e-5,
		TieEmbeddings:  true,
		Seed:           42,
		MaxBatchSize:   32,
		MaxBatchTokens: 8192,
	}
}

// Load reads a YAML file on top of Default and validates the result.
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal encodes the config as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// VocabSize returns the number of token ids.
func (c Config) VocabSize() int {
	return len(c.Vocab)
}

// ComplementMap returns the validated complement map.
func (c Config) ComplementMap() (equivariant.ComplementMap, error) {
	m, err := equivariant.NewComplementMap(c.Complement)
	if err != nil {
		return nil, fmt.Errorf("%w: complement: %w", ErrInvalid, err)
	}
	return m, nil
}

// Validate checks that the config describes a buildable model.
func (c Config) Validate() error {
	if len(c.Vocab) == 0 {
		return fmt.Errorf("%w: empty vocab", ErrInvalid)
	}
	if len(c.Complement) != len(c.Vocab) {
		return fmt.Errorf("%w: complement has %d entries, vocab has %d", ErrInvalid, len(c.Complement), len(c.Vocab))
	}
	if _, err := c.ComplementMap(); err != nil {
		return err
	}
	if c.DModel <= 0 || c.DModel%2 != 0 {
		return fmt.Errorf("%w: d_model must be positive and even, got %d", ErrInvalid, c.DModel)
	}
	if c.Layers < 0 {
		return fmt.Errorf("%w: n_layers must not be negative, got %d", ErrInvalid, c.Layers)
	}

	switch c.Mixer {
	case MixerMLP:
		if c.MLPRatio <= 0 {
			return fmt.Errorf("%w: mlp_ratio must be positive, got %d", ErrInvalid, c.MLPRatio)
		}
	case MixerAttention:
		if c.Heads <= 0 || c.DModel%c.Heads != 0 {
			return fmt.Errorf("%w: d_model %d is not divisible by %d heads", ErrInvalid, c.DModel, c.Heads)
		}
	case MixerIdentity:
	default:
		return fmt.Errorf("%w: unknown mixer %q", ErrInvalid, c.Mixer)
	}

	switch c.Norm {
	case NormLayerNorm, NormRMSNorm:
	default:
		return fmt.Errorf("%w: unknown norm %q", ErrInvalid, c.Norm)
	}
	if c.NormEps <= 0 {
		return fmt.Errorf("%w: norm_eps must be positive", ErrInvalid)
	}

	if c.MaxBatchSize <= 0 || c.MaxBatchTokens <= 0 {
		return fmt.Errorf("%w: batch limits must be positive", ErrInvalid)
	}
	return nil
}
