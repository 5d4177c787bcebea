package device

// Tensor is a row-major 2-D float32 array.
// Sequence batches are stacked along rows: a batch of sequences with
// lengths [l0, l1, ...] occupies l0+l1+... rows, one token per row, and the
// columns hold the channel features.
type Tensor interface {
	// Dims returns the dimensions (rows, cols) of the tensor.
	Dims() (int, int)

	// At returns the value at (i, j).
	// This is slow and should be used for debugging or infrequent access.
	At(i, j int) float32

	// Set sets the value at (i, j).
	Set(i, j int, v float32)

	// Data returns the underlying slice (nil for transposed views).
	Data() []float32

	// ToHost copies the data to a Go slice.
	ToHost() []float32

	// CopyFromFloat32 copies data from a Go slice into the tensor.
	CopyFromFloat32(data []float32)

	// Copy copies content from another tensor.
	Copy(from Tensor)

	// Slice returns a copy of rows [i, k) and columns [j, l).
	Slice(i, k, j, l int) Tensor

	// T returns the transpose view. The view shares storage.
	T() Tensor

	// Mul performs matrix multiplication: t = a * b
	Mul(a, b Tensor)

	// Add performs element-wise addition: t = t + other
	Add(other Tensor)

	// AddScalar performs: t = t + val
	AddScalar(val float32)

	// Scale performs: t = t * val
	Scale(val float32)

	// AddBias adds a 1xN bias vector to each row.
	AddBias(bias Tensor)

	// Activation functions (In-Place)
	Softmax()
	Gelu()
	Tanh()

	// LayerNorm performs layer normalization over each row (In-Place).
	LayerNorm(gamma, beta Tensor, eps float32)

	// RMSNorm performs root mean square normalization over each row (In-Place).
	RMSNorm(gamma Tensor, eps float32)

	// Gather collects rows based on indices. Returns new Tensor.
	Gather(indices []int) Tensor

	// Linear performs a fused MatMul + BiasAdd: input * weight + bias.
	// bias may be nil. Returns a pooled result tensor.
	Linear(input, weight, bias Tensor) Tensor

	// LinearActivation performs Linear followed by Activation.
	LinearActivation(input, weight, bias Tensor, activation ActivationType) Tensor

	// Attention performs Softmax(Q * K^T * scale) * V independently for every
	// sequence described by lengths. No mask is applied.
	Attention(q, k, v Tensor, lengths []int, scale float32) Tensor

	// FlipRows reverses row order inside each sequence. Returns new Tensor.
	FlipRows(lengths []int) Tensor

	// FlipCols reverses column order of every row. Returns new Tensor.
	FlipCols() Tensor

	// ConcatCols returns [t | other] joined along columns.
	ConcatCols(other Tensor) Tensor

	// ExtractTo copies rows into a pre-allocated slice of slices starting at startRow.
	ExtractTo(destination [][]float32, startRow int)
}

type ActivationType int

const (
	ActivationIdentity ActivationType = iota
	ActivationGELU
	ActivationTanh
	ActivationSoftmax
)

// Backend creates tensors and manages device memory.
type Backend interface {
	Name() string
	NewTensor(r, c int, data []float32) Tensor

	// GetTensor gets a zeroed tensor from the pool or creates a new one.
	GetTensor(r, c int) Tensor

	// PutTensor returns a tensor to the pool.
	PutTensor(t Tensor)

	// Synchronize blocks until all queued operations are complete.
	Synchronize()
}

// Clone returns a deep copy of t.
func Clone(t Tensor) Tensor {
	r, c := t.Dims()
	return t.Slice(0, r, 0, c)
}

// SumLengths returns the number of rows occupied by a batch.
func SumLengths(lengths []int) int {
	s := 0
	for _, l := range lengths {
		s += l
	}
	return s
}
