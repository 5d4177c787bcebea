package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-helix/internal/client"
	"github.com/23skdu/longbow-helix/internal/device"
	"github.com/23skdu/longbow-helix/internal/embeddings"
)

var (
	vectorsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helix_vectors_processed_total",
		Help: "The total number of vectors embedded",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "helix_request_duration_seconds",
		Help:    "Time spent processing requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})

	forwardErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helix_forward_errors_total",
		Help: "Chunks that could not be forwarded to Longbow",
	})
)

// DatasetHeader overrides the default dataset for caching and forwarding.
const DatasetHeader = "X-Helix-Dataset"

type EmbedderInterface interface {
	EmbedBatch(ctx context.Context, seqs [][]int) <-chan embeddings.StreamResult
	Logits(ctx context.Context, seqs [][]int) ([][]float32, error)
	Validate(seqs [][]int) error
	Dim() int
	VocabSize() int
}

// EncodeResponse carries embeddings as fp32 values or fp16 bit patterns,
// depending on the server's transport format.
type EncodeResponse struct {
	Count   int       `cbor:"count"`
	Dim     int       `cbor:"dim"`
	Format  string    `cbor:"format"`
	Vectors []float32 `cbor:"vectors,omitempty"`
	Half    []uint16  `cbor:"half,omitempty"`
}

// LogitsResponse carries row-major len(seq) x Vocab logits per sequence.
type LogitsResponse struct {
	Vocab  int         `cbor:"vocab"`
	Logits [][]float32 `cbor:"logits"`
}

type Server struct {
	embedder      EmbedderInterface
	flightClient  client.Putter
	datasetName   string
	alloc         memory.Allocator
	builder       *client.RecordBatchBuilder
	sem           *semaphore.Weighted
	maxConcurrent int64
	transportFmt  string
}

func NewServer(embedder EmbedderInterface, fc client.Putter, dataset string, maxConcurrent int, transportFmt string) *Server {
	alloc := memory.NewGoAllocator()
	return &Server{
		embedder:      embedder,
		flightClient:  fc,
		datasetName:   dataset,
		alloc:         alloc,
		builder:       client.NewRecordBatchBuilder(alloc),
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		maxConcurrent: int64(maxConcurrent),
		transportFmt:  transportFmt,
	}
}

// Routes returns the HTTP handler of the server.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/encode", s.handleEncode)
	mux.HandleFunc("/encode/arrow", s.handleEncodeArrow)
	mux.HandleFunc("/logits", s.handleLogits)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func startServer(addr string, srv *Server) {
	log.Info().Str("addr", addr).Str("transport", srv.transportFmt).Msg("Starting Helix Server")
	if srv.flightClient != nil {
		log.Info().Str("dataset", srv.datasetName).Msg("Forwarding to Longbow at specified server address")
	}

	if err := http.ListenAndServe(addr, srv.Routes()); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("helix-server")

func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleEncode")
	defer span.End()
	defer observeRequest("encode", time.Now())

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var seqs [][]int
	if err := cbor.NewDecoder(r.Body).Decode(&seqs); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("sequence_count", len(seqs)))

	ctx = s.withDataset(ctx, r)
	vectors, status, err := s.admitAndEmbed(ctx, seqs)
	if err != nil {
		span.RecordError(err)
		http.Error(w, err.Error(), status)
		return
	}

	resp := EncodeResponse{Count: len(seqs), Dim: s.embedder.Dim(), Format: s.transportFmt}
	if s.transportFmt == "fp16" {
		resp.Half = device.EncodeFloat16(vectors)
	} else {
		resp.Vectors = vectors
	}
	writeCBOR(w, resp)
}

func (s *Server) handleEncodeArrow(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleEncodeArrow")
	defer span.End()
	defer observeRequest("encode_arrow", time.Now())

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reader, err := ipc.NewReader(r.Body, ipc.WithAllocator(s.alloc))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create IPC reader: %v", err), http.StatusBadRequest)
		return
	}
	defer reader.Release()

	ctx = s.withDataset(ctx, r)
	var results []arrow.RecordBatch
	defer func() {
		for _, rec := range results {
			rec.Release()
		}
	}()

	totalProcessed := 0
	for reader.Next() {
		seqs, err := client.SequencesFromRecord(reader.Record())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(seqs) == 0 {
			continue
		}

		vectors, status, err := s.admitAndEmbed(ctx, seqs)
		if err != nil {
			http.Error(w, err.Error(), status)
			return
		}

		rec, err := s.builder.BuildRecordBatch(seqs, vectors, s.embedder.Dim())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		results = append(results, rec)
		totalProcessed += len(seqs)
	}

	if reader.Err() != nil {
		log.Error().Err(reader.Err()).Msg("Error reading Arrow stream")
		http.Error(w, "Stream error", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("sequence_count", totalProcessed))

	w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")
	writer := ipc.NewWriter(w, ipc.WithSchema(client.EmbeddingSchema(s.embedder.Dim())), ipc.WithAllocator(s.alloc))
	for _, rec := range results {
		if err := writer.Write(rec); err != nil {
			log.Error().Err(err).Msg("Failed to write Arrow response")
			break
		}
	}
	if err := writer.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close Arrow response")
	}
}

func (s *Server) handleLogits(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleLogits")
	defer span.End()
	defer observeRequest("logits", time.Now())

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var seqs [][]int
	if err := cbor.NewDecoder(r.Body).Decode(&seqs); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}
	if err := s.embedder.Validate(seqs); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	weight := int64(len(seqs))
	if weight > s.maxConcurrent {
		http.Error(w, "Request too large", http.StatusRequestEntityTooLarge)
		return
	}
	if err := s.sem.Acquire(ctx, weight); err != nil {
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer s.sem.Release(weight)

	logits, err := s.embedder.Logits(ctx, seqs)
	if err != nil {
		span.RecordError(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeCBOR(w, LogitsResponse{Vocab: s.embedder.VocabSize(), Logits: logits})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// admitAndEmbed validates seqs, waits for admission and embeds them,
// forwarding each finished chunk to Longbow when a client is configured.
// On error it also returns the HTTP status to report.
func (s *Server) admitAndEmbed(ctx context.Context, seqs [][]int) ([]float32, int, error) {
	if err := s.embedder.Validate(seqs); err != nil {
		return nil, http.StatusBadRequest, err
	}
	if len(seqs) == 0 {
		return nil, http.StatusOK, nil
	}

	// Admission Control
	weight := int64(len(seqs))
	if weight > s.maxConcurrent {
		return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("request of %d sequences exceeds limit of %d", weight, s.maxConcurrent)
	}
	if err := s.sem.Acquire(ctx, weight); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		return nil, http.StatusServiceUnavailable, errors.New("server busy")
	}
	defer s.sem.Release(weight)

	vectors, err := s.processBatch(ctx, seqs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, http.StatusServiceUnavailable, err
		}
		return nil, http.StatusInternalServerError, err
	}
	return vectors, http.StatusOK, nil
}

// processBatch embeds seqs and returns the flat embeddings.
func (s *Server) processBatch(ctx context.Context, seqs [][]int) ([]float32, error) {
	dim := s.embedder.Dim()
	result := make([]float32, len(seqs)*dim)
	received := 0

	for chunk := range s.embedder.EmbedBatch(ctx, seqs) {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		copy(result[chunk.Offset*dim:], chunk.Vectors)
		received += chunk.Count

		if s.flightClient != nil {
			chunkSeqs := seqs[chunk.Offset : chunk.Offset+chunk.Count]
			if err := s.forwardToLongbow(ctx, chunkSeqs, chunk.Vectors); err != nil {
				forwardErrors.Inc()
				log.Error().Err(err).Msg("Error forwarding chunk to Longbow")
			}
		}
	}
	vectorsProcessed.Add(float64(received))

	if received != len(seqs) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("embedded %d of %d sequences", received, len(seqs))
	}
	return result, nil
}

func (s *Server) forwardToLongbow(ctx context.Context, seqs [][]int, flatBatch []float32) error {
	rb, err := s.builder.BuildRecordBatch(seqs, flatBatch, s.embedder.Dim())
	if err != nil || rb == nil {
		return err
	}
	defer rb.Release()

	return s.flightClient.DoPut(ctx, s.dataset(ctx), rb)
}

func (s *Server) withDataset(ctx context.Context, r *http.Request) context.Context {
	dataset := s.datasetName
	if h := r.Header.Get(DatasetHeader); h != "" {
		dataset = h
	}
	return embeddings.WithDatasetID(ctx, dataset)
}

func (s *Server) dataset(ctx context.Context) string {
	if id := embeddings.DatasetIDFromContext(ctx); id != "" {
		return id
	}
	return s.datasetName
}

func writeCBOR(w http.ResponseWriter, v any) {
	data, err := cbor.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("CBOR encode: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func observeRequest(handler string, start time.Time) {
	requestDuration.WithLabelValues(handler).Observe(time.Since(start).Seconds())
}
