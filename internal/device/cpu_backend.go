package device

import (
	"log"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/23skdu/longbow-helix/internal/simd"
)

// ensure interface compliance
var _ Backend = (*CPUBackend)(nil)
var _ Tensor = (*CPUTensor)(nil)

// numWorkers defines the default parallelism for CPU operations
var numWorkers = runtime.NumCPU()

type CPUBackend struct {
	pool sync.Pool
}

func NewCPUBackend() *CPUBackend {
	return &CPUBackend{
		pool: sync.Pool{
			New: func() interface{} {
				return &CPUTensor{}
			},
		},
	}
}

func (b *CPUBackend) Name() string {
	return "CPU"
}

func (b *CPUBackend) NewTensor(r, c int, data []float32) Tensor {
	size := r * c
	t := &CPUTensor{
		backend: b,
		rows:    r,
		cols:    c,
		data:    make([]float32, size),
	}

	if data != nil {
		if len(data) != size {
			log.Panicf("NewTensor: data length %d does not match dimensions %dx%d", len(data), r, c)
		}
		copy(t.data, data)
	}

	return t
}

func (b *CPUBackend) GetTensor(r, c int) Tensor {
	v := b.pool.Get()
	ct, ok := v.(*CPUTensor)
	if !ok || ct == nil {
		ct = &CPUTensor{}
	}

	ct.backend = b
	ct.rows = r
	ct.cols = c
	ct.trans = false
	size := r * c
	if cap(ct.data) < size {
		poolMisses.Inc()
		ct.data = make([]float32, size)
	} else {
		poolHits.Inc()
		ct.data = ct.data[:size]
		for i := range ct.data {
			ct.data[i] = 0
		}
	}
	return ct
}

func (b *CPUBackend) PutTensor(t Tensor) {
	ct, ok := t.(*CPUTensor)
	if !ok || ct.trans {
		// Don't pool foreign tensors or views sharing storage
		return
	}

	ct.rows = 0
	ct.cols = 0
	// Data is zeroed when retrieved by GetTensor
	b.pool.Put(ct)
}

func (b *CPUBackend) Synchronize() {
	// CPU is always synchronous
}

type CPUTensor struct {
	backend *CPUBackend
	data    []float32
	rows    int
	cols    int
	trans   bool // Transposed view flag
}

func (t *CPUTensor) Dims() (int, int) {
	if t.trans {
		return t.cols, t.rows
	}
	return t.rows, t.cols
}

func (t *CPUTensor) At(i, j int) float32 {
	if t.trans {
		// Logical (i, j) -> Physical (j, i)
		return t.data[j*t.cols+i]
	}
	return t.data[i*t.cols+j]
}

func (t *CPUTensor) Set(i, j int, v float32) {
	if t.trans {
		t.data[j*t.cols+i] = v
	} else {
		t.data[i*t.cols+j] = v
	}
}

func (t *CPUTensor) Data() []float32 {
	// If transposed, data is not contiguous in logical order
	if t.trans {
		return nil
	}
	return t.data
}

func (t *CPUTensor) ToHost() []float32 {
	if t.trans {
		rows, cols := t.Dims()
		out := make([]float32, rows*cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				out[i*cols+j] = t.At(i, j)
			}
		}
		return out
	}

	out := make([]float32, len(t.data))
	copy(out, t.data)
	return out
}

func (t *CPUTensor) CopyFromFloat32(data []float32) {
	if len(data) != len(t.data) {
		log.Panicf("CopyFromFloat32: size mismatch. Target: %d, Source: %d", len(t.data), len(data))
	}
	if t.trans {
		log.Panic("CopyFromFloat32 not supported on transposed tensor views")
	}
	copy(t.data, data)
}

func (t *CPUTensor) Copy(from Tensor) {
	ft := mustCPU(from, "Copy")

	tr, tc := t.Dims()
	fr, fc := ft.Dims()

	if tr != fr || tc != fc {
		log.Panicf("Copy: dimension mismatch. Target: %dx%d, Source: %dx%d", tr, tc, fr, fc)
	}

	if !t.trans && !ft.trans {
		copy(t.data, ft.data)
		return
	}
	for i := 0; i < tr; i++ {
		for j := 0; j < tc; j++ {
			t.Set(i, j, ft.At(i, j))
		}
	}
}

func (t *CPUTensor) Slice(i, k, j, l int) Tensor {
	sliceRows := k - i
	sliceCols := l - j

	tr, tc := t.Dims()
	if i < 0 || j < 0 || sliceRows < 0 || sliceCols < 0 || k > tr || l > tc {
		log.Panicf("Slice: invalid dimensions rows [%d,%d) cols [%d,%d)", i, k, j, l)
	}

	// This is a copy, not a view.
	out := t.backend.NewTensor(sliceRows, sliceCols, nil).(*CPUTensor)
	if !t.trans {
		for r := 0; r < sliceRows; r++ {
			src := t.data[(i+r)*t.cols+j : (i+r)*t.cols+l]
			copy(out.data[r*sliceCols:(r+1)*sliceCols], src)
		}
		return out
	}
	for r := 0; r < sliceRows; r++ {
		for c := 0; c < sliceCols; c++ {
			out.data[r*sliceCols+c] = t.At(i+r, j+c)
		}
	}
	return out
}

func (t *CPUTensor) T() Tensor {
	return &CPUTensor{
		backend: t.backend,
		data:    t.data, // Share data
		rows:    t.rows,
		cols:    t.cols,
		trans:   !t.trans,
	}
}

// general exposes the physical storage to BLAS along with the transpose flag
// that recovers the logical layout.
func (t *CPUTensor) general() (blas.Transpose, blas32.General) {
	g := blas32.General{Rows: t.rows, Cols: t.cols, Stride: t.cols, Data: t.data}
	if t.trans {
		return blas.Trans, g
	}
	return blas.NoTrans, g
}

func (t *CPUTensor) Mul(a, b Tensor) {
	ma := mustCPU(a, "Mul")
	mb := mustCPU(b, "Mul")

	ar, ac := ma.Dims()
	br, bc := mb.Dims()

	if ac != br {
		log.Panicf("Mul: dimension mismatch. A cols (%d) != B rows (%d)", ac, br)
	}

	tr, tc := t.Dims()
	if tr != ar || tc != bc {
		log.Panicf("Mul: result tensor dimension mismatch. Expected %dx%d, got %dx%d", ar, bc, tr, tc)
	}
	if t.trans {
		log.Panic("Mul: result must not be a transposed view")
	}
	if ar == 0 || bc == 0 {
		return
	}
	if ac == 0 {
		for i := range t.data {
			t.data[i] = 0
		}
		return
	}

	tA, ga := ma.general()
	tB, gb := mb.general()
	_, gc := t.general()
	blas32.Gemm(tA, tB, 1, ga, gb, 0, gc)
}

func (t *CPUTensor) Add(other Tensor) {
	ot := mustCPU(other, "Add")

	tr, tc := t.Dims()
	or, oc := ot.Dims()

	if tr != or || tc != oc {
		log.Panicf("Add: dimension mismatch. Target: %dx%d, Other: %dx%d", tr, tc, or, oc)
	}

	if !t.trans && !ot.trans {
		simd.VecAdd(t.data, ot.data)
		return
	}
	for i := 0; i < tr; i++ {
		for j := 0; j < tc; j++ {
			t.Set(i, j, t.At(i, j)+ot.At(i, j))
		}
	}
}

func (t *CPUTensor) AddScalar(val float32) {
	for i := range t.data {
		t.data[i] += val
	}
}

func (t *CPUTensor) AddBias(bias Tensor) {
	bt := mustCPU(bias, "AddBias")
	if t.trans {
		log.Panic("AddBias not supported on transposed tensor views directly")
	}

	r, c := t.Dims()
	biasData := bt.ToHost()
	if len(biasData) != c {
		log.Panicf("AddBias: bias length %d does not match tensor columns %d", len(biasData), c)
	}

	for i := 0; i < r; i++ {
		simd.VecAdd(t.data[i*c:(i+1)*c], biasData)
	}
}

func (t *CPUTensor) Scale(val float32) {
	simd.VecScale(t.data, val)
}

func (t *CPUTensor) Gather(indices []int) Tensor {
	r, c := t.Dims()
	out := t.backend.GetTensor(len(indices), c).(*CPUTensor)

	for i, idx := range indices {
		if idx < 0 || idx >= r {
			log.Panicf("Gather: index %d out of bounds [0, %d)", idx, r)
		}
		if t.trans {
			for j := 0; j < c; j++ {
				out.data[i*c+j] = t.At(idx, j)
			}
			continue
		}
		copy(out.data[i*c:(i+1)*c], t.data[idx*c:(idx+1)*c])
	}

	return out
}

func (t *CPUTensor) Softmax() {
	if t.trans {
		log.Panic("Softmax not supported on transposed tensor views directly")
	}
	r, c := t.Dims()
	for i := 0; i < r; i++ {
		simd.SoftmaxFast(t.data[i*c : (i+1)*c])
	}
}

func (t *CPUTensor) Gelu() {
	if t.trans {
		log.Panic("Gelu not supported on transposed tensor views directly")
	}
	simd.GeluFast(t.data)
}

func (t *CPUTensor) Tanh() {
	if t.trans {
		log.Panic("Tanh not supported on transposed tensor views directly")
	}
	for i, v := range t.data {
		t.data[i] = simd.TanhFast(v)
	}
}

func (t *CPUTensor) LayerNorm(gamma, beta Tensor, eps float32) {
	if t.trans {
		log.Panic("LayerNorm not supported on transposed tensor views directly")
	}
	gammaData := mustCPU(gamma, "LayerNorm").ToHost()
	betaData := mustCPU(beta, "LayerNorm").ToHost()

	r, c := t.Dims()
	if len(gammaData) != c || len(betaData) != c {
		log.Panicf("LayerNorm: params dim mismatch. Tensor cols %d, gamma %d, beta %d", c, len(gammaData), len(betaData))
	}

	for i := 0; i < r; i++ {
		row := t.data[i*c : (i+1)*c]

		var sum float32
		for _, v := range row {
			sum += v
		}
		mean := sum / float32(c)

		var varSum float32
		for _, v := range row {
			diff := v - mean
			varSum += diff * diff
		}
		variance := varSum / float32(c)
		invStd := 1.0 / float32(math.Sqrt(float64(variance+eps)))

		for j := 0; j < c; j++ {
			row[j] = (row[j]-mean)*invStd*gammaData[j] + betaData[j]
		}
	}
}

func (t *CPUTensor) RMSNorm(gamma Tensor, eps float32) {
	if t.trans {
		log.Panic("RMSNorm not supported on transposed tensor views directly")
	}
	gammaData := mustCPU(gamma, "RMSNorm").ToHost()

	r, c := t.Dims()
	if len(gammaData) != c {
		log.Panicf("RMSNorm: params dim mismatch. Tensor cols %d, gamma %d", c, len(gammaData))
	}

	for i := 0; i < r; i++ {
		row := t.data[i*c : (i+1)*c]
		meanSq := simd.DotProduct(row, row) / float32(c)
		invRMS := 1.0 / float32(math.Sqrt(float64(meanSq+eps)))
		for j := 0; j < c; j++ {
			row[j] = row[j] * invRMS * gammaData[j]
		}
	}
}

func (t *CPUTensor) Linear(input, weight, bias Tensor) Tensor {
	r, _ := input.Dims()
	_, wc := weight.Dims()

	result := t.backend.GetTensor(r, wc)
	result.Mul(input, weight)

	if bias != nil {
		result.AddBias(bias)
	}

	return result
}

func (t *CPUTensor) LinearActivation(input, weight, bias Tensor, activation ActivationType) Tensor {
	result := t.Linear(input, weight, bias)

	switch activation {
	case ActivationGELU:
		result.Gelu()
	case ActivationTanh:
		result.Tanh()
	case ActivationSoftmax:
		result.Softmax()
	case ActivationIdentity:
		// No-op
	}

	return result
}

func (t *CPUTensor) Attention(q, k, v Tensor, lengths []int, scale float32) Tensor {
	qt := mustCPU(q, "Attention")
	kt := mustCPU(k, "Attention")
	vt := mustCPU(v, "Attention")
	if qt.trans || kt.trans || vt.trans {
		log.Panic("Attention not supported on transposed tensor views directly")
	}

	r, c := qt.Dims()
	if r != SumLengths(lengths) {
		log.Panicf("Attention: rows %d do not match total sequence length %d", r, SumLengths(lengths))
	}

	result := t.backend.NewTensor(r, c, nil).(*CPUTensor)
	offsets := rowOffsets(lengths)

	var wg sync.WaitGroup
	sem := make(chan struct{}, numWorkers)
	for s, seqLen := range lengths {
		if seqLen == 0 {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(offset, seqLen int) {
			defer wg.Done()
			defer func() { <-sem }()

			scores := make([]float32, seqLen)
			for rQ := 0; rQ < seqLen; rQ++ {
				qIdx := (offset + rQ) * c
				qRow := qt.data[qIdx : qIdx+c]

				for rK := 0; rK < seqLen; rK++ {
					kIdx := (offset + rK) * c
					scores[rK] = simd.DotProduct(qRow, kt.data[kIdx:kIdx+c]) * scale
				}
				simd.SoftmaxFast(scores)

				outRow := result.data[qIdx : qIdx+c]
				for rK, score := range scores {
					vIdx := (offset + rK) * c
					simd.VecAddScaled(outRow, vt.data[vIdx:vIdx+c], score)
				}
			}
		}(offsets[s], seqLen)
	}
	wg.Wait()

	return result
}

func (t *CPUTensor) FlipRows(lengths []int) Tensor {
	if t.trans {
		log.Panic("FlipRows not supported on transposed tensor views directly")
	}
	r, c := t.Dims()
	if r != SumLengths(lengths) {
		log.Panicf("FlipRows: rows %d do not match total sequence length %d", r, SumLengths(lengths))
	}

	out := t.backend.GetTensor(r, c).(*CPUTensor)
	offset := 0
	for _, l := range lengths {
		for i := 0; i < l; i++ {
			src := (offset + l - 1 - i) * c
			dst := (offset + i) * c
			copy(out.data[dst:dst+c], t.data[src:src+c])
		}
		offset += l
	}
	return out
}

func (t *CPUTensor) FlipCols() Tensor {
	if t.trans {
		log.Panic("FlipCols not supported on transposed tensor views directly")
	}
	r, c := t.Dims()
	out := t.backend.GetTensor(r, c).(*CPUTensor)
	for i := 0; i < r; i++ {
		simd.VecReverse(out.data[i*c:(i+1)*c], t.data[i*c:(i+1)*c])
	}
	return out
}

func (t *CPUTensor) ConcatCols(other Tensor) Tensor {
	ot := mustCPU(other, "ConcatCols")
	if t.trans || ot.trans {
		log.Panic("ConcatCols not supported on transposed tensor views directly")
	}
	r, c1 := t.Dims()
	or, c2 := ot.Dims()
	if r != or {
		log.Panicf("ConcatCols: row mismatch. Left: %d, Right: %d", r, or)
	}

	width := c1 + c2
	out := t.backend.GetTensor(r, width).(*CPUTensor)
	for i := 0; i < r; i++ {
		copy(out.data[i*width:i*width+c1], t.data[i*c1:(i+1)*c1])
		copy(out.data[i*width+c1:(i+1)*width], ot.data[i*c2:(i+1)*c2])
	}
	return out
}

func (t *CPUTensor) ExtractTo(destination [][]float32, startRow int) {
	r, c := t.Dims()
	if startRow+r > len(destination) {
		log.Panicf("ExtractTo: destination has %d rows, need %d", len(destination), startRow+r)
	}
	for i := 0; i < r; i++ {
		row := destination[startRow+i]
		if cap(row) < c {
			row = make([]float32, c)
		}
		row = row[:c]
		if t.trans {
			for j := 0; j < c; j++ {
				row[j] = t.At(i, j)
			}
		} else {
			copy(row, t.data[i*c:(i+1)*c])
		}
		destination[startRow+i] = row
	}
}

func mustCPU(t Tensor, op string) *CPUTensor {
	ct, ok := t.(*CPUTensor)
	if !ok {
		log.Panicf("%s: mixed backend operands not supported", op)
	}
	return ct
}

func rowOffsets(lengths []int) []int {
	offsets := make([]int, len(lengths))
	current := 0
	for i, l := range lengths {
		offsets[i] = current
		current += l
	}
	return offsets
}
