package model

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-helix/internal/config"
	"github.com/23skdu/longbow-helix/internal/device"
	"github.com/23skdu/longbow-helix/internal/equivariant"
	"github.com/23skdu/longbow-helix/internal/nn"
)

// Block is one pre-norm residual layer of the encoder: an add-and-norm step
// that keeps the residual width followed by a wrapped mixer.
type Block struct {
	Norm  *equivariant.NormWrapper
	Mixer *equivariant.Wrapper
}

// Forward returns the new hidden state and residual.
func (b *Block) Forward(hidden, residual device.Tensor, lengths []int) (device.Tensor, device.Tensor) {
	normed, residual := b.Norm.Forward(hidden, residual, lengths)
	out := b.Mixer.Forward(normed, lengths)
	b.Norm.Backend.PutTensor(normed)
	return out, residual
}

// Model is a reverse-complement equivariant encoder over id sequences.
//
// Hidden states are (tokens, 2*DModel) equivariant tensors. Logits are
// equivariant and pooled embeddings are identical for a sequence and its
// reverse complement.
type Model struct {
	Config  config.Config
	Backend device.Backend

	Embedding *equivariant.Embedding
	Blocks    []*Block
	NormF     *equivariant.NormWrapper
	LMHead    *equivariant.LMHead
	Collapse  *equivariant.Collapse

	complement equivariant.ComplementMap
}

// New builds a model with weights drawn from cfg.Seed.
func New(cfg config.Config, backend device.Backend) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	complement, err := cfg.ComplementMap()
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	d := cfg.DModel

	m := &Model{
		Config:     cfg,
		Backend:    backend,
		Embedding:  equivariant.NewEmbedding(cfg.VocabSize(), d, complement, backend, rng),
		Collapse:   equivariant.NewCollapse(backend),
		complement: complement,
	}

	for i := 0; i < cfg.Layers; i++ {
		m.Blocks = append(m.Blocks, &Block{
			Norm:  equivariant.NewNormWrapperKeepDim(newNorm(cfg, d/2, backend), d, backend, rng),
			Mixer: equivariant.NewWrapperKeepDim(newMixer(cfg, backend, rng), d, backend, rng),
		})
	}
	m.NormF = equivariant.NewNormWrapper(newNorm(cfg, d, backend), backend)

	if cfg.TieEmbeddings {
		m.LMHead = equivariant.NewTiedLMHead(m.Embedding.Weight(), backend)
	} else {
		m.LMHead = equivariant.NewLMHead(d, cfg.VocabSize(), backend, rng)
	}

	if !complement.Mirrored() {
		log.Warn().Ints("complement", cfg.Complement).Msg("Complement map is not mirrored; logits vocabulary order will not match complemented ids")
	}
	log.Debug().
		Int("vocab", cfg.VocabSize()).
		Int("d_model", d).
		Int("layers", cfg.Layers).
		Str("mixer", cfg.Mixer).
		Str("norm", cfg.Norm).
		Bool("tied", cfg.TieEmbeddings).
		Str("backend", backend.Name()).
		Msg("Built equivariant model")
	return m, nil
}

func newNorm(cfg config.Config, size int, backend device.Backend) nn.Norm {
	if cfg.Norm == config.NormLayerNorm {
		return nn.NewLayerNorm(size, cfg.NormEps, backend)
	}
	return nn.NewRMSNorm(size, cfg.NormEps, backend)
}

func newMixer(cfg config.Config, backend device.Backend, rng *rand.Rand) nn.Module {
	d := cfg.DModel
	switch cfg.Mixer {
	case config.MixerAttention:
		return nn.NewSelfAttention(d, cfg.Heads, backend, rng)
	case config.MixerIdentity:
		return nn.Identity{}
	default:
		return nn.NewMLP(d, d*cfg.MLPRatio, d, backend, rng)
	}
}

// Complement returns the model's complement map.
func (m *Model) Complement() equivariant.ComplementMap {
	return m.complement
}

// Dim returns the width of pooled embeddings.
func (m *Model) Dim() int {
	return m.Config.DModel
}

// VocabSize returns the number of logits per token.
func (m *Model) VocabSize() int {
	return m.Config.VocabSize()
}

// ForwardBatch encodes a flattened batch of sequences into
// (tokens, 2*DModel) equivariant hidden states.
func (m *Model) ForwardBatch(ids []int, lengths []int) device.Tensor {
	if total := device.SumLengths(lengths); total != len(ids) {
		panic(fmt.Sprintf("model: lengths sum to %d, have %d ids", total, len(ids)))
	}
	defer observe("forward", time.Now())
	TokensProcessed.Add(float64(len(ids)))

	hidden := m.Embedding.Forward(ids, lengths)
	var residual device.Tensor
	for _, block := range m.Blocks {
		next, nextResidual := block.Forward(hidden, residual, lengths)
		m.Backend.PutTensor(hidden)
		if residual != nil {
			m.Backend.PutTensor(residual)
		}
		hidden, residual = next, nextResidual
	}

	out, finalResidual := m.NormF.Forward(hidden, residual, lengths)
	m.Backend.PutTensor(hidden)
	m.Backend.PutTensor(finalResidual)
	if residual != nil {
		m.Backend.PutTensor(residual)
	}
	return out
}

// Logits returns (tokens, vocab) scores. For a mirrored complement map the
// logits of the reverse complement are these logits reversed along tokens
// and vocabulary.
func (m *Model) Logits(ids []int, lengths []int) device.Tensor {
	hidden := m.ForwardBatch(ids, lengths)
	defer observe("logits", time.Now())

	logits := m.LMHead.Forward(hidden)
	m.Backend.PutTensor(hidden)
	return logits
}

// Pool returns one (batch, DModel) embedding per sequence: the collapsed
// hidden states averaged over each sequence. A sequence and its reverse
// complement pool to the same embedding.
func (m *Model) Pool(ids []int, lengths []int) device.Tensor {
	hidden := m.ForwardBatch(ids, lengths)
	defer observe("pool", time.Now())

	collapsed := m.Collapse.Forward(hidden, lengths)
	m.Backend.PutTensor(hidden)

	pooled := meanPool(m.Backend, collapsed, lengths)
	m.Backend.PutTensor(collapsed)
	return pooled
}

// meanPool averages the rows of every sequence with a single
// (batch, tokens) x (tokens, c) product. Empty sequences pool to zero.
func meanPool(backend device.Backend, x device.Tensor, lengths []int) device.Tensor {
	tokens, c := x.Dims()
	weights := make([]float32, len(lengths)*tokens)
	offset := 0
	for i, l := range lengths {
		if l > 0 {
			inv := 1 / float32(l)
			row := weights[i*tokens+offset : i*tokens+offset+l]
			for j := range row {
				row[j] = inv
			}
		}
		offset += l
	}

	avg := backend.NewTensor(len(lengths), tokens, weights)
	out := backend.GetTensor(len(lengths), c)
	out.Mul(avg, x)
	backend.PutTensor(avg)
	return out
}
