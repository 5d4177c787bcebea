package embeddings

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/longbow-helix/internal/cache"
	"github.com/23skdu/longbow-helix/internal/config"
	"github.com/23skdu/longbow-helix/internal/device"
	"github.com/23skdu/longbow-helix/internal/embeddings/model"
	"github.com/23skdu/longbow-helix/internal/equivariant"
)

// ErrEmptySequence is returned for a sequence without tokens.
var ErrEmptySequence = errors.New("empty sequence")

// StreamResult is one embedded chunk of an EmbedBatch call. Vectors holds
// Count embeddings of Dim values each for the inputs starting at Offset.
type StreamResult struct {
	Offset  int
	Count   int
	Vectors []float32
	Err     error
}

// Embedder runs the equivariant model over batches of id sequences.
// It is safe for concurrent use.
type Embedder struct {
	model             *model.Model
	cache             cache.VectorCache
	internalBatchSize int
	maxBatchTokens    int
}

// NewEmbedder builds the model described by cfg on backend. c may be nil to
// disable caching of pooled embeddings.
func NewEmbedder(cfg config.Config, backend device.Backend, c cache.VectorCache) (*Embedder, error) {
	m, err := model.New(cfg, backend)
	if err != nil {
		return nil, fmt.Errorf("failed to build model: %w", err)
	}

	log.Info().
		Str("backend", backend.Name()).
		Int("dim", m.Dim()).
		Int("batch_size", cfg.MaxBatchSize).
		Int("batch_tokens", cfg.MaxBatchTokens).
		Bool("cache", c != nil).
		Msg("Initialized embedder")

	return &Embedder{
		model:             m,
		cache:             c,
		internalBatchSize: cfg.MaxBatchSize,
		maxBatchTokens:    cfg.MaxBatchTokens,
	}, nil
}

// Dim returns the length of each pooled embedding.
func (e *Embedder) Dim() int {
	return e.model.Dim()
}

// VocabSize returns the number of token ids the model accepts.
func (e *Embedder) VocabSize() int {
	return e.model.VocabSize()
}

// Complement returns the complement map used by the model.
func (e *Embedder) Complement() equivariant.ComplementMap {
	return e.model.Complement()
}

// Validate checks that every sequence is non-empty and in vocabulary.
func (e *Embedder) Validate(seqs [][]int) error {
	for i, seq := range seqs {
		if len(seq) == 0 {
			return fmt.Errorf("sequence %d: %w", i, ErrEmptySequence)
		}
		if err := e.model.Complement().CheckIDs(seq); err != nil {
			return fmt.Errorf("sequence %d: %w", i, err)
		}
	}
	return nil
}

// EmbedBatch embeds seqs in dynamically sized batches and streams each batch
// as soon as it is ready. Results arrive in input order. The channel is
// closed when all batches are sent, on the first error, or when ctx is done.
func (e *Embedder) EmbedBatch(ctx context.Context, seqs [][]int) <-chan StreamResult {
	out := make(chan StreamResult, 1)

	if err := e.Validate(seqs); err != nil {
		out <- StreamResult{Err: err}
		close(out)
		return out
	}

	go func() {
		defer close(out)

		datasetID := DatasetIDFromContext(ctx)
		span := trace.SpanFromContext(ctx)
		for _, b := range planBatches(sequenceLengths(seqs), e.internalBatchSize, e.maxBatchTokens) {
			if err := ctx.Err(); err != nil {
				return
			}

			vectors := e.embedRange(datasetID, seqs[b.start:b.end])
			span.AddEvent("batch_embedded", trace.WithAttributes(
				attribute.Int("offset", b.start),
				attribute.Int("count", b.end-b.start),
			))
			select {
			case out <- StreamResult{Offset: b.start, Count: b.end - b.start, Vectors: vectors}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// ProxyEmbedBatch embeds seqs and returns all embeddings as one flat
// len(seqs)*Dim slice.
func (e *Embedder) ProxyEmbedBatch(ctx context.Context, seqs [][]int) ([]float32, error) {
	if len(seqs) == 0 {
		return nil, nil
	}

	dim := e.Dim()
	result := make([]float32, len(seqs)*dim)
	received := 0
	for chunk := range e.EmbedBatch(ctx, seqs) {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		copy(result[chunk.Offset*dim:], chunk.Vectors)
		received += chunk.Count
	}

	if received != len(seqs) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("embedded %d of %d sequences", received, len(seqs))
	}
	return result, nil
}

// Logits returns per-token vocabulary logits for every sequence, each as a
// row-major len(seq) x VocabSize slice.
func (e *Embedder) Logits(ctx context.Context, seqs [][]int) ([][]float32, error) {
	if err := e.Validate(seqs); err != nil {
		return nil, err
	}

	vocab := e.VocabSize()
	results := make([][]float32, len(seqs))
	for _, b := range planBatches(sequenceLengths(seqs), e.internalBatchSize, e.maxBatchTokens) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ids, lengths := flatten(seqs[b.start:b.end])
		logits := e.model.Logits(ids, lengths)
		data := logits.ToHost()
		e.model.Backend.PutTensor(logits)

		offset := 0
		for i, l := range lengths {
			row := make([]float32, l*vocab)
			copy(row, data[offset*vocab:(offset+l)*vocab])
			results[b.start+i] = row
			offset += l
		}
	}
	return results, nil
}

// embedRange returns the flat embeddings of seqs, serving repeats of either
// strand from the cache.
func (e *Embedder) embedRange(datasetID string, seqs [][]int) []float32 {
	start := time.Now()
	dim := e.Dim()
	vectors := make([]float32, len(seqs)*dim)

	keys := make([]string, len(seqs))
	var missing []int
	for i, seq := range seqs {
		if e.cache == nil {
			missing = append(missing, i)
			continue
		}
		keys[i] = cacheKey(datasetID, e.model.Complement(), seq)
		if vec, ok := e.cache.Get(keys[i]); ok {
			copy(vectors[i*dim:], vec)
			cacheHits.Inc()
			continue
		}
		cacheMisses.Inc()
		missing = append(missing, i)
	}

	if len(missing) > 0 {
		batch := make([][]int, len(missing))
		for j, i := range missing {
			batch[j] = seqs[i]
		}
		ids, lengths := flatten(batch)

		pooled := e.model.Pool(ids, lengths)
		rows := make([][]float32, len(missing))
		pooled.ExtractTo(rows, 0)
		e.model.Backend.PutTensor(pooled)

		for j, i := range missing {
			copy(vectors[i*dim:], rows[j])
			if e.cache != nil {
				e.cache.Put(keys[i], rows[j])
			}
		}

		batchCount.WithLabelValues(e.model.Backend.Name()).Inc()
		sequencesProcessed.WithLabelValues(e.model.Backend.Name()).Add(float64(len(missing)))
		tokensProcessed.WithLabelValues(e.model.Backend.Name()).Add(float64(len(ids)))
	}

	batchDuration.Observe(time.Since(start).Seconds())
	return vectors
}

// cacheKey identifies a sequence and its reverse complement by the same
// key: the lexicographically smaller strand, scoped by dataset.
func cacheKey(datasetID string, complement equivariant.ComplementMap, seq []int) string {
	canonical := seq
	rc := complement.ReverseComplement(seq)
	for i := range seq {
		if rc[i] != seq[i] {
			if rc[i] < seq[i] {
				canonical = rc
			}
			break
		}
	}

	buf := make([]byte, 0, len(datasetID)+1+len(canonical))
	buf = append(buf, datasetID...)
	buf = append(buf, 0)
	for _, id := range canonical {
		buf = binary.AppendUvarint(buf, uint64(id))
	}
	return string(buf)
}

func sequenceLengths(seqs [][]int) []int {
	lengths := make([]int, len(seqs))
	for i, seq := range seqs {
		lengths[i] = len(seq)
	}
	return lengths
}

func flatten(seqs [][]int) ([]int, []int) {
	lengths := sequenceLengths(seqs)
	ids := make([]int, 0, device.SumLengths(lengths))
	for _, seq := range seqs {
		ids = append(ids, seq...)
	}
	return ids, lengths
}
