package main

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-helix/internal/client"
	"github.com/23skdu/longbow-helix/internal/embeddings"
)

// HelixFlightServer embeds id sequences received over Arrow Flight.
// DoPut ingests sequences, embedding them into the cache and forwarding
// them to Longbow. DoExchange streams embedding records back.
type HelixFlightServer struct {
	flight.BaseFlightServer
	srv *Server
}

func NewHelixFlightServer(srv *Server) *HelixFlightServer {
	return &HelixFlightServer{srv: srv}
}

func (s *HelixFlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.srv.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	ctx := s.datasetContext(stream.Context(), reader.LatestFlightDescriptor())
	total := 0
	for reader.Next() {
		rec := reader.Record()
		seqs, err := client.SequencesFromRecord(rec)
		if err != nil {
			return err
		}
		if _, _, err := s.srv.admitAndEmbed(ctx, seqs); err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		total += len(seqs)
		log.Debug().Int64("rows", rec.NumRows()).Msg("DoPut embedded batch")
	}
	if err := reader.Err(); err != nil {
		return err
	}

	log.Info().Int("sequences", total).Str("dataset", s.srv.dataset(ctx)).Msg("DoPut complete")
	return stream.Send(&flight.PutResult{AppMetadata: []byte(fmt.Sprintf("%d", total))})
}

func (s *HelixFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.srv.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	ctx := s.datasetContext(stream.Context(), reader.LatestFlightDescriptor())
	dim := s.srv.embedder.Dim()
	writer := flight.NewRecordWriter(stream, ipc.WithSchema(client.EmbeddingSchema(dim)), ipc.WithAllocator(s.srv.alloc))
	defer writer.Close()

	for reader.Next() {
		seqs, err := client.SequencesFromRecord(reader.Record())
		if err != nil {
			return err
		}
		if len(seqs) == 0 {
			continue
		}

		vectors, _, err := s.srv.admitAndEmbed(ctx, seqs)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		rec, err := s.srv.builder.BuildRecordBatch(seqs, vectors, dim)
		if err != nil {
			return err
		}
		err = writer.Write(rec)
		rec.Release()
		if err != nil {
			return err
		}
	}
	return reader.Err()
}

func (s *HelixFlightServer) datasetContext(ctx context.Context, desc *flight.FlightDescriptor) context.Context {
	dataset := s.srv.datasetName
	if desc != nil && len(desc.Path) > 0 {
		dataset = desc.Path[0]
	}
	return embeddings.WithDatasetID(ctx, dataset)
}

func StartFlightServer(addr string, srv *Server) {
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(NewHelixFlightServer(srv))

	if err := server.Init(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to init Flight server")
	}

	log.Info().Str("addr", server.Addr().String()).Msg("Starting Helix Flight Server")
	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("Flight server failed")
	}
}
