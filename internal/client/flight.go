package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrCircuitOpen is returned by GuardedClient while forwarding is suspended.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Putter sends record batches to a dataset.
type Putter interface {
	DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error
	Close() error
}

// FlightClient handles communication with a Longbow server via Apache Flight.
type FlightClient struct {
	client flight.Client
	conn   *grpc.ClientConn
}

// NewFlightClient creates a new Flight client connected to the given address.
func NewFlightClient(addr string) (*FlightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	return &FlightClient{
		client: flight.NewClientFromConn(conn, nil),
		conn:   conn,
	}, nil
}

// DoPut sends a RecordBatch to the given dataset on the Longbow server and
// waits for the server to acknowledge the stream.
func (c *FlightClient) DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	stream, err := c.client.DoPut(ctx)
	if err != nil {
		return err
	}

	writer := flight.NewRecordWriter(stream)
	writer.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{datasetName},
	})

	if err := writer.Write(record); err != nil {
		_ = writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		if _, err := stream.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Close closes the client connection.
func (c *FlightClient) Close() error {
	return c.conn.Close()
}

// GuardedClient wraps a Putter with a CircuitBreaker so that a failing
// Longbow server is not retried on every batch.
type GuardedClient struct {
	next    Putter
	breaker *CircuitBreaker
}

// NewGuardedClient wraps next with breaker.
func NewGuardedClient(next Putter, breaker *CircuitBreaker) *GuardedClient {
	return &GuardedClient{next: next, breaker: breaker}
}

func (g *GuardedClient) DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	if !g.breaker.Allow() {
		return ErrCircuitOpen
	}

	if err := g.next.DoPut(ctx, datasetName, record); err != nil {
		g.breaker.Failure()
		if g.breaker.State() == StateOpen {
			log.Warn().Err(err).Str("dataset", datasetName).Msg("Forwarding suspended after repeated failures")
		}
		return err
	}

	g.breaker.Success()
	return nil
}

func (g *GuardedClient) Close() error {
	return g.next.Close()
}

// State reports the breaker state.
func (g *GuardedClient) State() State {
	return g.breaker.State()
}
