package device

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/23skdu/longbow-bodkin/internal/ggml"
)

// TensorOverhead is the fixed bookkeeping cost charged per tensor against
// the context budget, mirroring the per-object overhead of the on-disk
// format's reference runtime.
const TensorOverhead = 512

// Tensor is a typed 1-D or 2-D array backed by context-owned memory.
// ne[0] is the contiguous (row) dimension, ne[1] the row count.
type Tensor struct {
	Type ggml.Type
	ne   [2]int
	data []byte
}

func (t *Tensor) Dims() (int, int) { return t.ne[0], t.ne[1] }

func (t *Tensor) NE(i int) int { return t.ne[i] }

func (t *Tensor) NElements() int { return t.ne[0] * t.ne[1] }

// NBytes is the backing storage size: blocks(nelements) * block byte size.
func (t *Tensor) NBytes() int {
	return ggml.RowSize(t.Type, t.NElements())
}

// Data exposes the raw backing bytes for direct streaming from a model file.
func (t *Tensor) Data() []byte { return t.data }

// Row dequantizes row r (length ne[0]) into dst and returns it.
// dst must hold ne[0] float32s.
func (t *Tensor) Row(r int, dst []float32) []float32 {
	rowBytes := ggml.RowSize(t.Type, t.ne[0])
	ggml.Dequantize(t.Type, t.data[r*rowBytes:(r+1)*rowBytes], dst)
	return dst
}

// Float32s decodes an F32 tensor's storage into a freshly allocated
// float32 slice. Mutating the result does not touch the tensor.
func (t *Tensor) Float32s() []float32 {
	if t.Type != ggml.TypeF32 {
		panic("Float32s called on " + t.Type.String() + " tensor")
	}
	out := make([]float32, t.NElements())
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.data[i*4:]))
	}
	return out
}

// SetF32 stores v at flat element index i of an F32 tensor.
func (t *Tensor) SetF32(i int, v float32) {
	binary.LittleEndian.PutUint32(t.data[i*4:], math.Float32bits(v))
}

// F32At reads flat element index i of an F32 tensor.
func (t *Tensor) F32At(i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(t.data[i*4:]))
}

// SetF16 stores v at flat element index i of an F16 tensor.
func (t *Tensor) SetF16(i int, v float32) {
	binary.LittleEndian.PutUint16(t.data[i*2:], float16.Fromfloat32(v).Bits())
}

// F16At reads flat element index i of an F16 tensor.
func (t *Tensor) F16At(i int) float32 {
	return float16.Frombits(binary.LittleEndian.Uint16(t.data[i*2:])).Float32()
}

// Context owns all tensor memory for one loaded model. Its capacity is
// fixed at creation; allocation past the budget fails rather than growing,
// so a mis-sized analytic budget surfaces as a load error.
type Context struct {
	capacity int
	used     int
	tensors  int
}

func NewContext(capacity int) *Context {
	return &Context{capacity: capacity}
}

func (c *Context) Used() int { return c.used }

func (c *Context) Tensors() int { return c.tensors }

func (c *Context) alloc(t ggml.Type, ne0, ne1 int) (*Tensor, error) {
	if bs := ggml.BlockSize(t); bs == 0 || ne0%bs != 0 {
		return nil, fmt.Errorf("tensor dim %d not aligned to %v block size", ne0, t)
	}
	nbytes := ggml.RowSize(t, ne0*ne1)
	need := align16(nbytes) + TensorOverhead
	if c.used+need > c.capacity {
		return nil, fmt.Errorf("context budget exceeded: need %d bytes, have %d of %d",
			need, c.capacity-c.used, c.capacity)
	}
	c.used += need
	c.tensors++
	return &Tensor{
		Type: t,
		ne:   [2]int{ne0, ne1},
		data: make([]byte, nbytes),
	}, nil
}

// NewTensor1D allocates a vector of ne0 elements.
func (c *Context) NewTensor1D(t ggml.Type, ne0 int) (*Tensor, error) {
	return c.alloc(t, ne0, 1)
}

// NewTensor2D allocates a matrix of ne1 rows of ne0 elements.
func (c *Context) NewTensor2D(t ggml.Type, ne0, ne1 int) (*Tensor, error) {
	return c.alloc(t, ne0, ne1)
}

func align16(n int) int { return (n + 15) &^ 15 }
