package equivariant

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/23skdu/longbow-helix/internal/device"
	"github.com/23skdu/longbow-helix/internal/nn"
)

// Embedding looks up token embeddings for a sequence and for its reverse
// complement, projects both to half width with one shared projection and
// concatenates them into a dModel-wide equivariant tensor.
type Embedding struct {
	Backend    device.Backend
	Complement ComplementMap
	Table      device.Tensor // (vocab, dModel)
	Proj       *nn.Linear    // dModel -> dModel/2
}

// NewEmbedding creates the layer with N(0, 1) embeddings and Xavier
// projection weights. dModel must be even and the complement map must cover
// exactly vocabSize ids.
func NewEmbedding(vocabSize, dModel int, complement ComplementMap, backend device.Backend, rng *rand.Rand) *Embedding {
	mustEven("d_model", dModel)
	if complement.VocabSize() != vocabSize {
		panic(fmt.Sprintf("equivariant: complement map covers %d ids, vocabulary has %d", complement.VocabSize(), vocabSize))
	}

	e := &Embedding{
		Backend:    backend,
		Complement: complement,
		Table:      backend.NewTensor(vocabSize, dModel, nil),
		Proj:       nn.NewLinearXavier(dModel, dModel/2, true, backend, rng),
	}
	nn.NormalInit(e.Table, 1.0, rng)
	return e
}

// Weight returns the raw (unprojected) embedding table for weight tying.
// Callers must not modify it.
func (e *Embedding) Weight() device.Tensor {
	return e.Table
}

// DModel returns the output width.
func (e *Embedding) DModel() int {
	_, c := e.Table.Dims()
	return c
}

// Forward embeds a flattened batch of id sequences.
// Returns (len(ids), dModel).
func (e *Embedding) Forward(ids []int, lengths []int) device.Tensor {
	defer observe("embedding", e.Backend.Name(), time.Now())

	fwd := e.embed(ids)
	rev := e.embed(e.Complement.ReverseComplementBatch(ids, lengths))

	out := concatRC(e.Backend, fwd, rev, lengths)
	e.Backend.PutTensor(fwd)
	return out
}

func (e *Embedding) embed(ids []int) device.Tensor {
	raw := e.Table.Gather(ids)
	projected := e.Proj.Project(raw)
	e.Backend.PutTensor(raw)
	return projected
}
