package vm

import (
	"fmt"
	"io"
)

// ---------------------------------------------------------------------------
// Debug dumps
// ---------------------------------------------------------------------------

// DumpStack writes every operand stack slot to w, bottom first.
func (vm *VM) DumpStack(w io.Writer) {
	fmt.Fprintln(w, "== Stack ==")
	for i, v := range vm.stack {
		fmt.Fprintf(w, "[%d] %s\n", i, v)
	}
	fmt.Fprintln(w, "===========")
}

// DumpFrames writes every active frame to w, outermost first.
func (vm *VM) DumpFrames(w io.Writer) {
	fmt.Fprintln(w, "== Frames ==")
	for i, f := range vm.frames {
		fmt.Fprintf(w, "[%d] ip=%d bp=%d code=%d bytes\n",
			i, f.ip, f.basePointer, len(f.code()))
	}
	fmt.Fprintln(w, "============")
}
