package main

import (
	"context"
	"flag"
	"io"
	"os"
	"runtime/pprof"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-helix/internal/cache"
	"github.com/23skdu/longbow-helix/internal/client"
	"github.com/23skdu/longbow-helix/internal/config"
	"github.com/23skdu/longbow-helix/internal/device"
	"github.com/23skdu/longbow-helix/internal/embeddings"
)

var (
	configPath    = flag.String("config", "", "Path to YAML model config (defaults to the built-in nucleotide model)")
	dumpConfig    = flag.Bool("dump-config", false, "Print the effective model config as YAML and exit")
	logLevel      = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	cpuProfile    = flag.String("cpuprofile", "", "Write cpu profile to file")
	numSequences  = flag.Int("sequences", 3, "Number of random sequences to embed")
	seqLength     = flag.Int("length", 64, "Maximum length of random sequences")
	duration      = flag.Duration("duration", 0, "Run soak test for specified duration (e.g. 10s, 20m)")
	serverAddr    = flag.String("server", "", "Longbow server address (e.g., localhost:3000)")
	datasetName   = flag.String("dataset", "helix_dataset", "Target dataset name on server")
	listenAddr    = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	flightAddr    = flag.String("flight", "", "Address to listen on for Flight Server (e.g. :9090)")
	maxConcurrent = flag.Int("max-concurrent", 16384, "Maximum number of concurrent sequences to process")
	cacheSize     = flag.Int("cache-size", 100000, "Maximum cached embeddings (0 disables the cache)")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	transportFmt  = flag.String("transport-fmt", "fp32", "Transport format for embeddings: 'fp32' (default) or 'fp16'")
	breakerFails  = flag.Int("breaker-failures", 5, "Consecutive forwarding failures before pausing forwarding")
	breakerWait   = flag.Duration("breaker-timeout", 30*time.Second, "Pause before probing Longbow again")
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", *logLevel).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load config")
		}
	}
	if *dumpConfig {
		data, err := cfg.Marshal()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to encode config")
		}
		_, _ = os.Stdout.Write(data)
		return
	}

	if *seqLength < 1 {
		log.Fatal().Int("length", *seqLength).Msg("Sequence length must be positive")
	}
	if *transportFmt != "fp32" && *transportFmt != "fp16" {
		log.Fatal().Str("transport_fmt", *transportFmt).Msg("Transport format must be fp32 or fp16")
	}

	if *enableOTel {
		shutdown, err := initTracer(os.Stderr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	var vectorCache cache.VectorCache
	if *cacheSize > 0 {
		vectorCache = cache.NewBoundedMapCache(*cacheSize)
	}

	embedder, err := embeddings.NewEmbedder(cfg, device.NewCPUBackend(), vectorCache)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create embedder")
	}

	// Server Mode
	if *listenAddr != "" || *flightAddr != "" {
		var fc client.Putter
		if *serverAddr != "" {
			flightClient, err := client.NewFlightClient(*serverAddr)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to create flight client")
			}
			log.Info().Str("addr", *serverAddr).Msg("Connected to Flight Server")
			fc = client.NewGuardedClient(flightClient, client.NewCircuitBreaker(*breakerFails, *breakerWait))
		}

		srv := NewServer(embedder, fc, *datasetName, *maxConcurrent, *transportFmt)
		if *flightAddr == "" {
			startServer(*listenAddr, srv)
			return
		}
		if *listenAddr != "" {
			go startServer(*listenAddr, srv)
		}
		StartFlightServer(*flightAddr, srv)
		return
	}

	ctx := embeddings.WithDatasetID(context.Background(), *datasetName)

	if *duration > 0 {
		runSoak(ctx, embedder, cfg.VocabSize(), *duration)
		return
	}

	seqs := embeddings.GenerateSequences(*numSequences, *seqLength, cfg.VocabSize(), time.Now().UnixNano())

	start := time.Now()
	vectors, err := embedder.ProxyEmbedBatch(ctx, seqs)
	if err != nil {
		log.Fatal().Err(err).Msg("Embedding failed")
	}
	elapsed := time.Since(start)

	log.Info().
		Int("count", len(seqs)).
		Dur("elapsed", elapsed).
		Int("dim", embedder.Dim()).
		Float64("tps", float64(len(seqs))/elapsed.Seconds()).
		Msg("Embedded sequences")

	builder := client.NewRecordBatchBuilder(memory.NewGoAllocator())
	rec, err := builder.BuildRecordBatch(seqs, vectors, embedder.Dim())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build record batch")
	}
	if rec == nil {
		return
	}
	defer rec.Release()

	// If server is provided, send via Flight
	if *serverAddr != "" {
		log.Info().Int("count", len(seqs)).Str("server", *serverAddr).Str("dataset", *datasetName).Msg("Sending vectors to Longbow")
		flightClient, err := client.NewFlightClient(*serverAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Longbow")
		}
		defer func() {
			if err := flightClient.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close flight client")
			}
		}()

		putCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()

		if err := flightClient.DoPut(putCtx, *datasetName, rec); err != nil {
			log.Error().Err(err).Msg("Flight DoPut failed")
			return
		}
		log.Info().Msg("Successfully sent embeddings to Longbow")
		return
	}

	if err := writeArrowStream(os.Stdout, rec); err != nil {
		log.Warn().Err(err).Msg("Failed to write arrow stream")
	}
}

func runSoak(ctx context.Context, embedder *embeddings.Embedder, vocabSize int, d time.Duration) {
	log.Info().Str("duration", d.String()).Msg("Starting soak test")

	n := max(*numSequences, 1000)
	startTime := time.Now()
	endTime := startTime.Add(d)
	var totalVectors int64
	var iter int

	for time.Now().Before(endTime) {
		seqs := embeddings.GenerateSequences(n, *seqLength, vocabSize, int64(iter))
		if _, err := embedder.ProxyEmbedBatch(ctx, seqs); err != nil {
			log.Fatal().Err(err).Int("iter", iter).Msg("Soak iteration failed")
		}

		totalVectors += int64(len(seqs))
		iter++

		if iter%10 == 0 {
			elapsed := time.Since(startTime)
			log.Info().
				Str("elapsed", elapsed.Round(time.Second).String()).
				Int("iter", iter).
				Int64("total_vectors", totalVectors).
				Float64("tps", float64(totalVectors)/elapsed.Seconds()).
				Msg("Soak test progress")
		}
	}

	totalElapsed := time.Since(startTime)
	log.Info().
		Int64("total_vectors", totalVectors).
		Dur("total_time", totalElapsed).
		Float64("avg_tps", float64(totalVectors)/totalElapsed.Seconds()).
		Msg("Soak test complete")
}

func writeArrowStream(w io.Writer, rec arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

// initTracer exports spans to w. Stdout is reserved for the Arrow stream of
// one-shot runs.
func initTracer(w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("helix"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
