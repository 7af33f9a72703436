package vm

import "fmt"

// ---------------------------------------------------------------------------
// Chunk: the interpreter's input
// ---------------------------------------------------------------------------

// Chunk bundles everything the interpreter needs: the top-level function,
// the constant pool it and its nested functions index into, and the
// number of global slots the compiler assigned.
type Chunk struct {
	Function     *Function
	Constants    []*Value
	GlobalsCount int
}

// maxConstants is the range addressable by CONSTANT's single operand byte.
const maxConstants = 256

// Validate checks the structural invariants a well-formed chunk holds.
// The interpreter also re-checks everything it touches at runtime; this
// is the cheap up-front pass for loaders.
func (c *Chunk) Validate() error {
	if c.Function == nil {
		return fmt.Errorf("chunk: missing top-level function")
	}
	if c.Function.NumParams != 0 {
		return fmt.Errorf("chunk: top-level function takes %d params, want 0", c.Function.NumParams)
	}
	if c.Function.NumUpvalues != 0 {
		return fmt.Errorf("chunk: top-level function captures %d upvalues, want 0", c.Function.NumUpvalues)
	}
	if len(c.Constants) > maxConstants {
		return fmt.Errorf("chunk: %d constants exceeds the %d addressable by one operand byte",
			len(c.Constants), maxConstants)
	}
	if c.GlobalsCount < 0 {
		return fmt.Errorf("chunk: negative globals count %d", c.GlobalsCount)
	}
	for i, v := range c.Constants {
		if v == nil {
			return fmt.Errorf("chunk: constant %d is nil", i)
		}
	}
	return nil
}
