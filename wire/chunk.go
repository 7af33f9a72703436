// Package wire defines the CBOR container format for chunks. A chunk
// file carries the top-level function, the constant pool, and the global
// slot count; any producer that emits this shape can feed the
// interpreter.
package wire

// Chunk is the serialized form of a vm.Chunk.
type Chunk struct {
	Function     *Function `cbor:"1,keyasint"`
	Constants    []Value   `cbor:"2,keyasint,omitempty"`
	GlobalsCount uint32    `cbor:"3,keyasint,omitempty"`
}

// Function is the serialized form of a function descriptor.
type Function struct {
	Code        []byte `cbor:"1,keyasint"`
	NumParams   uint32 `cbor:"2,keyasint,omitempty"`
	NumUpvalues uint32 `cbor:"3,keyasint,omitempty"`
}

// Value is a one-of: exactly one field may be set. Nil is a presence
// flag rather than a payload.
type Value struct {
	Int      *int64    `cbor:"1,keyasint,omitempty"`
	Float    *float64  `cbor:"2,keyasint,omitempty"`
	Bool     *bool     `cbor:"3,keyasint,omitempty"`
	Nil      bool      `cbor:"4,keyasint,omitempty"`
	String   *string   `cbor:"5,keyasint,omitempty"`
	Function *Function `cbor:"6,keyasint,omitempty"`
}

// payloads counts how many variants are set.
func (v *Value) payloads() int {
	n := 0
	if v.Int != nil {
		n++
	}
	if v.Float != nil {
		n++
	}
	if v.Bool != nil {
		n++
	}
	if v.Nil {
		n++
	}
	if v.String != nil {
		n++
	}
	if v.Function != nil {
		n++
	}
	return n
}
