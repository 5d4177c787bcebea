package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-helix/internal/client"
)

func startTestFlightServer(t *testing.T, srv *Server) string {
	t.Helper()
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(NewHelixFlightServer(srv))
	require.NoError(t, server.Init("localhost:0"))

	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(server.Shutdown)
	return server.Addr().String()
}

func TestFlightServer_DoPut(t *testing.T) {
	mfc := &mockFlightClient{}
	mfc.On("DoPut", mock.Anything, "genomes", mock.Anything).Return(nil)

	srv := NewServer(newTestEmbedder(t), mfc, "default", 16, "fp32")
	addr := startTestFlightServer(t, srv)

	fc, err := client.NewFlightClient(addr)
	require.NoError(t, err)
	defer fc.Close()

	rec := client.NewRecordBatchBuilder(memory.NewGoAllocator()).SequenceRecord([][]int{{0, 1, 2}, {3}, {4, 4}})
	defer rec.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fc.DoPut(ctx, "genomes", rec))

	// three sequences in batches of two
	mfc.AssertNumberOfCalls(t, "DoPut", 2)
}

func TestFlightServer_DoPutRejectsInvalid(t *testing.T) {
	srv := NewServer(newTestEmbedder(t), nil, "default", 16, "fp32")
	addr := startTestFlightServer(t, srv)

	fc, err := client.NewFlightClient(addr)
	require.NoError(t, err)
	defer fc.Close()

	rec := client.NewRecordBatchBuilder(memory.NewGoAllocator()).SequenceRecord([][]int{{0, 42}})
	defer rec.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Error(t, fc.DoPut(ctx, "genomes", rec))
}

func TestFlightServer_DoExchange(t *testing.T) {
	emb := newTestEmbedder(t)
	srv := NewServer(emb, nil, "default", 16, "fp32")
	addr := startTestFlightServer(t, srv)

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	fc := flight.NewClientFromConn(conn, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := fc.DoExchange(ctx)
	require.NoError(t, err)

	alloc := memory.NewGoAllocator()
	seqs := [][]int{{0, 1, 2, 3}, {1, 1}}
	rec := client.NewRecordBatchBuilder(alloc).SequenceRecord(seqs)
	defer rec.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	writer.SetFlightDescriptor(&flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{"genomes"}})
	require.NoError(t, writer.Write(rec))
	require.NoError(t, writer.Close())
	require.NoError(t, stream.CloseSend())

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(alloc))
	require.NoError(t, err)
	defer reader.Release()

	rows := 0
	for reader.Next() {
		out := reader.Record()
		got, err := client.SequencesFromRecord(out)
		require.NoError(t, err)
		assert.Equal(t, seqs, got)

		embArr := out.Column(1).(*array.FixedSizeList)
		assert.Equal(t, len(seqs)*emb.Dim(), embArr.ListValues().Len())
		rows += int(out.NumRows())
	}
	if err := reader.Err(); err != nil {
		require.ErrorIs(t, err, io.EOF)
	}
	assert.Equal(t, len(seqs), rows)
}
