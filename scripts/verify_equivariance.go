//go:build ignore

package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-helix/internal/config"
	"github.com/23skdu/longbow-helix/internal/device"
	"github.com/23skdu/longbow-helix/internal/embeddings/model"
)

// Builds a model from a config and reports the largest deviation from
// reverse-complement symmetry of its logits and pooled embeddings.
func main() {
	configPath := flag.String("config", "", "Path to YAML model config")
	n := flag.Int("sequences", 8, "Number of random sequences")
	length := flag.Int("length", 128, "Sequence length")
	tol := flag.Float64("tol", 1e-4, "Allowed deviation")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatal().Err(err).Msg("Failed to load config")
		}
	}

	m, err := model.New(cfg, device.NewCPUBackend())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build model")
	}
	comp := m.Complement()

	rng := rand.New(rand.NewSource(cfg.Seed))
	lengths := make([]int, *n)
	var ids []int
	for i := range lengths {
		lengths[i] = *length
		for j := 0; j < *length; j++ {
			ids = append(ids, rng.Intn(m.VocabSize()))
		}
	}
	rcIDs := comp.ReverseComplementBatch(ids, lengths)

	logits := m.Logits(ids, lengths).FlipRows(lengths).FlipCols().ToHost()
	rcLogits := m.Logits(rcIDs, lengths).ToHost()
	logitDev := maxAbsDiff(logits, rcLogits)

	poolDev := maxAbsDiff(m.Pool(ids, lengths).ToHost(), m.Pool(rcIDs, lengths).ToHost())

	log.Info().
		Float64("logits", logitDev).
		Float64("pool", poolDev).
		Bool("mirrored", comp.Mirrored()).
		Msg("Max deviation under reverse complement")

	if logitDev > *tol || poolDev > *tol {
		fmt.Println("VERIFICATION FAILED")
		os.Exit(1)
	}
	fmt.Println("VERIFICATION PASSED")
}

func maxAbsDiff(a, b []float32) float64 {
	var worst float64
	for i := range a {
		worst = math.Max(worst, math.Abs(float64(a[i]-b[i])))
	}
	return worst
}
