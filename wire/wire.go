package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/ember/vm"
)

// cborEncMode holds CBOR encoding options with canonical mode for
// deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalChunk serializes a Chunk to CBOR bytes.
func MarshalChunk(c *Chunk) ([]byte, error) {
	return cborEncMode.Marshal(c)
}

// UnmarshalChunk deserializes a Chunk from CBOR bytes.
func UnmarshalChunk(data []byte) (*Chunk, error) {
	var c Chunk
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("wire: unmarshal chunk: %w", err)
	}
	return &c, nil
}

// ---------------------------------------------------------------------------
// Wire <-> runtime conversion
// ---------------------------------------------------------------------------

// Runtime reconstructs the in-memory chunk the interpreter consumes,
// checking the one-payload invariant on every constant.
func (c *Chunk) Runtime() (*vm.Chunk, error) {
	if c.Function == nil {
		return nil, fmt.Errorf("wire: chunk has no top-level function")
	}
	constants := make([]*vm.Value, len(c.Constants))
	for i := range c.Constants {
		v, err := c.Constants[i].runtime()
		if err != nil {
			return nil, fmt.Errorf("wire: constant %d: %w", i, err)
		}
		constants[i] = v
	}
	rc := &vm.Chunk{
		Function:     c.Function.runtime(),
		Constants:    constants,
		GlobalsCount: int(c.GlobalsCount),
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	return rc, nil
}

func (f *Function) runtime() *vm.Function {
	return &vm.Function{
		Code:        f.Code,
		NumParams:   int(f.NumParams),
		NumUpvalues: int(f.NumUpvalues),
	}
}

func (v *Value) runtime() (*vm.Value, error) {
	if n := v.payloads(); n != 1 {
		return nil, fmt.Errorf("%d payloads set, want exactly 1", n)
	}
	switch {
	case v.Int != nil:
		return vm.NewInt(*v.Int), nil
	case v.Float != nil:
		return vm.NewFloat(*v.Float), nil
	case v.Bool != nil:
		return vm.NewBool(*v.Bool), nil
	case v.Nil:
		return vm.NewNil(), nil
	case v.String != nil:
		return vm.NewString(*v.String), nil
	default:
		return vm.NewFunctionValue(v.Function.runtime()), nil
	}
}

// FromRuntime converts an in-memory chunk to its wire form, the inverse
// of Runtime. Closure constants are rejected: closures only exist at
// run time.
func FromRuntime(c *vm.Chunk) (*Chunk, error) {
	if c.Function == nil {
		return nil, fmt.Errorf("wire: chunk has no top-level function")
	}
	constants := make([]Value, len(c.Constants))
	for i, v := range c.Constants {
		wv, err := fromValue(v)
		if err != nil {
			return nil, fmt.Errorf("wire: constant %d: %w", i, err)
		}
		constants[i] = wv
	}
	return &Chunk{
		Function:     fromFunction(c.Function),
		Constants:    constants,
		GlobalsCount: uint32(c.GlobalsCount),
	}, nil
}

func fromFunction(f *vm.Function) *Function {
	return &Function{
		Code:        f.Code,
		NumParams:   uint32(f.NumParams),
		NumUpvalues: uint32(f.NumUpvalues),
	}
}

func fromValue(v *vm.Value) (Value, error) {
	switch v.Type() {
	case vm.TypeInt:
		i := v.Int()
		return Value{Int: &i}, nil
	case vm.TypeFloat:
		f := v.Float()
		return Value{Float: &f}, nil
	case vm.TypeBool:
		b := v.Bool()
		return Value{Bool: &b}, nil
	case vm.TypeNil:
		return Value{Nil: true}, nil
	case vm.TypeString:
		s := v.Str()
		return Value{String: &s}, nil
	case vm.TypeFunction:
		return Value{Function: fromFunction(v.Function())}, nil
	default:
		return Value{}, fmt.Errorf("value %s is not serializable", v)
	}
}
