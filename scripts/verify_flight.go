//go:build ignore

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-helix/internal/client"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := "localhost:9090"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	log.Info().Str("addr", addr).Msg("Connecting to Helix Flight Server")

	c, err := client.NewFlightClient(addr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create client")
	}
	defer c.Close()

	seqs := [][]int{
		{0, 1, 3, 4},
		{0, 4, 3, 1},
		{2, 2, 0},
	}
	rec := client.NewRecordBatchBuilder(memory.NewGoAllocator()).SequenceRecord(seqs)
	defer rec.Release()

	log.Info().Int("count", len(seqs)).Msg("Sending sequences")

	// The server may still be starting.
	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		start := time.Now()
		err = c.DoPut(ctx, "verify", rec)
		cancel()
		if err == nil {
			log.Info().Dur("elapsed", time.Since(start)).Msg("Sequences embedded")
			break
		}
		log.Warn().Err(err).Msg("DoPut failed, retrying...")
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("DoPut failed after retries")
	}

	fmt.Println("VERIFICATION PASSED")
}
