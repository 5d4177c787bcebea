package client

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

const (
	SequenceColumn  = "sequence"
	EmbeddingColumn = "embedding"
)

// ErrNoSequenceColumn is returned for records without a usable id column.
var ErrNoSequenceColumn = errors.New("record has no sequence column")

// EmbeddingSchema is the schema of records sent to Longbow: the token ids of
// each sequence and its pooled embedding.
func EmbeddingSchema(dim int) *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: SequenceColumn, Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
			{Name: EmbeddingColumn, Type: arrow.FixedSizeListOf(int32(dim), arrow.PrimitiveTypes.Float32)},
		},
		nil,
	)
}

// RecordBatchBuilder creates Arrow RecordBatches from embeddings.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

// NewRecordBatchBuilder creates a new builder.
func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// BuildRecordBatch pairs every sequence with its embedding. vectors holds
// len(seqs)*dim values and is referenced by the record without copying, so
// it must not be modified while the record is in use. Returns nil for no
// sequences.
func (b *RecordBatchBuilder) BuildRecordBatch(seqs [][]int, vectors []float32, dim int) (arrow.RecordBatch, error) {
	if len(seqs) == 0 {
		return nil, nil
	}
	if dim <= 0 || len(vectors) != len(seqs)*dim {
		return nil, fmt.Errorf("have %d values for %d sequences of dim %d", len(vectors), len(seqs), dim)
	}
	numRows := len(seqs)

	seqArr := b.sequenceArray(seqs)
	defer seqArr.Release()

	// Embedding Column, zero-copy over vectors
	schema := EmbeddingSchema(dim)
	fslType := schema.Field(1).Type
	resultBuf := memory.NewBufferBytes(arrow.Float32Traits.CastToBytes(vectors))

	valuesData := array.NewData(arrow.PrimitiveTypes.Float32, numRows*dim, []*memory.Buffer{nil, resultBuf}, nil, 0, 0)
	defer valuesData.Release()
	fslData := array.NewData(fslType, numRows, []*memory.Buffer{nil}, []arrow.ArrayData{valuesData}, 0, 0)
	defer fslData.Release()
	embeddingArr := array.NewFixedSizeListData(fslData)
	defer embeddingArr.Release()

	return array.NewRecordBatch(schema, []arrow.Array{seqArr, embeddingArr}, int64(numRows)), nil
}

// SequencesFromRecord reads token ids from the "sequence" column of rec, or
// from its first column when no column has that name. The column must be a
// list of int32 or int64.
func SequencesFromRecord(rec arrow.RecordBatch) ([][]int, error) {
	if rec.NumCols() == 0 {
		return nil, ErrNoSequenceColumn
	}
	col := rec.Column(0)
	if indices := rec.Schema().FieldIndices(SequenceColumn); len(indices) > 0 {
		col = rec.Column(indices[0])
	}

	list, ok := col.(*array.List)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrNoSequenceColumn, col.DataType())
	}

	seqs := make([][]int, list.Len())
	switch values := list.ListValues().(type) {
	case *array.Int32:
		for i := range seqs {
			start, end := list.ValueOffsets(i)
			seq := make([]int, end-start)
			for j := range seq {
				seq[j] = int(values.Value(int(start) + j))
			}
			seqs[i] = seq
		}
	case *array.Int64:
		for i := range seqs {
			start, end := list.ValueOffsets(i)
			seq := make([]int, end-start)
			for j := range seq {
				seq[j] = int(values.Value(int(start) + j))
			}
			seqs[i] = seq
		}
	default:
		return nil, fmt.Errorf("%w: list of %s", ErrNoSequenceColumn, list.ListValues().DataType())
	}
	return seqs, nil
}

// SequenceRecord builds a record holding only a sequence column, the input
// format of the Flight and Arrow HTTP endpoints.
func (b *RecordBatchBuilder) SequenceRecord(seqs [][]int) arrow.RecordBatch {
	arr := b.sequenceArray(seqs)
	defer arr.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: SequenceColumn, Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)}}, nil)
	return array.NewRecordBatch(schema, []arrow.Array{arr}, int64(len(seqs)))
}

func (b *RecordBatchBuilder) sequenceArray(seqs [][]int) arrow.Array {
	listBuilder := array.NewListBuilder(b.mem, arrow.PrimitiveTypes.Int32)
	defer listBuilder.Release()

	valueBuilder := listBuilder.ValueBuilder().(*array.Int32Builder)
	for _, seq := range seqs {
		listBuilder.Append(true)
		for _, id := range seq {
			valueBuilder.Append(int32(id))
		}
	}
	return listBuilder.NewArray()
}
