package vm

import (
	"fmt"
	"io"
	"os"
)

// ---------------------------------------------------------------------------
// VM: the execution engine
// ---------------------------------------------------------------------------

// Result is the overall outcome of an interpret call.
type Result int

const (
	Success Result = iota
	Failure
)

// DefaultMaxFrames bounds call depth; a malformed or runaway chunk hits
// this before exhausting memory.
const DefaultMaxFrames = 1024

// VM executes one chunk. It owns the operand stack, the globals array,
// the frame stack, and the constants table, and mutates them only from
// the dispatch loop. A VM is single-threaded and not reusable across
// chunks.
type VM struct {
	stack     []*Value
	globals   []*Value
	frames    []*Frame
	constants []*Value

	out       io.Writer
	trace     io.Writer
	maxFrames int

	live   int
	closed bool
}

// Option configures a VM.
type Option func(*VM)

// WithOutput directs PRINT output and fault messages to w instead of
// standard output.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) { vm.out = w }
}

// WithTrace writes a disassembly line to w before each instruction
// executes.
func WithTrace(w io.Writer) Option {
	return func(vm *VM) { vm.trace = w }
}

// WithMaxFrames overrides the call depth limit.
func WithMaxFrames(n int) Option {
	return func(vm *VM) { vm.maxFrames = n }
}

// New builds a VM for the given chunk. The top-level function is wrapped
// in a synthetic closure with no upvalues and becomes the first frame.
// Constants are retained for the VM's lifetime.
func New(chunk *Chunk, opts ...Option) (*VM, error) {
	if err := chunk.Validate(); err != nil {
		return nil, err
	}

	vm := &VM{
		out:       os.Stdout,
		maxFrames: DefaultMaxFrames,
	}
	for _, opt := range opts {
		opt(vm)
	}

	vm.constants = make([]*Value, len(chunk.Constants))
	for i, c := range chunk.Constants {
		vm.retain(c)
		vm.constants[i] = c
	}
	vm.globals = make([]*Value, chunk.GlobalsCount)

	main := &Closure{Function: chunk.Function}
	vm.frames = append(vm.frames, NewFrame(main, 0))
	return vm, nil
}

// Interpret runs the chunk to completion or to the first fault.
func (vm *VM) Interpret() (Result, error) {
	if err := vm.run(); err != nil {
		return Failure, err
	}
	return Success, nil
}

// Close releases everything the VM still retains: stack remnants,
// globals, and the constants table. After Close on a normally completed
// run, LiveValues reports zero.
func (vm *VM) Close() {
	if vm.closed {
		return
	}
	vm.closed = true
	vm.truncate(0)
	for i, g := range vm.globals {
		if g != nil {
			vm.release(g)
			vm.globals[i] = nil
		}
	}
	for _, c := range vm.constants {
		vm.release(c)
	}
	vm.constants = nil
	vm.frames = nil
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// run decodes and executes instructions until the current frame runs off
// the end of its code (clean termination) or a fault is raised. RETURN
// from the outermost frame also terminates cleanly.
func (vm *VM) run() error {
	frame := vm.currentFrame()
	for !frame.done() {
		if vm.trace != nil {
			line, _ := disassembleInstruction(frame.code(), frame.ip, vm.constants)
			fmt.Fprintf(vm.trace, "frame=%d %s\n", len(vm.frames)-1, line)
		}

		op := frame.next()
		switch op {
		case OpConstant:
			idx, err := frame.operand()
			if err != nil {
				return vm.fault(err, "Invalid operand byte for %s", op)
			}
			if int(idx) >= len(vm.constants) {
				return vm.fault(ErrIndexOutOfRange, "Invalid constant index for %s", op)
			}
			vm.push(vm.copyValue(vm.constants[idx]))

		case OpTrue:
			vm.push(NewBool(true))

		case OpFalse:
			vm.push(NewBool(false))

		case OpNil:
			vm.push(NewNil())

		case OpNegate:
			a, err := vm.pop()
			if err != nil {
				return vm.fault(err, "Invalid stack for %s", op)
			}
			var result *Value
			switch {
			case a.IsInt():
				result = NewInt(-a.Int())
			case a.IsFloat():
				result = NewFloat(-a.Float())
			default:
				return vm.fault(ErrInvalidOperand, "Invalid operand for %s", op)
			}
			vm.push(result)
			vm.release(a)

		case OpAdd, OpSubtract, OpMultiply, OpDivide, OpModulo:
			b, a, err := vm.pop2()
			if err != nil {
				return vm.fault(err, "Invalid stack for %s", op)
			}
			result, err := vm.arith(op, a, b)
			if err != nil {
				return vm.fault(err, "Invalid operands for %s", op)
			}
			vm.push(result)
			vm.release(a)
			vm.release(b)

		case OpNot:
			a, err := vm.pop()
			if err != nil {
				return vm.fault(err, "Invalid stack for %s", op)
			}
			if !a.IsBool() {
				return vm.fault(ErrInvalidOperand, "Invalid operand for %s", op)
			}
			vm.push(NewBool(!a.Bool()))
			vm.release(a)

		case OpEq, OpGt, OpLt, OpGe, OpLe:
			b, a, err := vm.pop2()
			if err != nil {
				return vm.fault(err, "Invalid stack for %s", op)
			}
			result, err := vm.compare(op, a, b)
			if err != nil {
				return vm.fault(err, "Invalid operands for %s", op)
			}
			vm.push(result)
			vm.release(a)
			vm.release(b)

		case OpPop:
			a, err := vm.pop()
			if err != nil {
				return vm.fault(err, "Invalid stack for %s", op)
			}
			vm.release(a)

		case OpPrint:
			a, err := vm.pop()
			if err != nil {
				return vm.fault(err, "Invalid stack for %s", op)
			}
			fmt.Fprintf(vm.out, "%s\n", a.Display())
			vm.release(a)

		case OpSetGlobal:
			idx, err := frame.operand()
			if err != nil {
				return vm.fault(err, "Invalid operand byte for %s", op)
			}
			if int(idx) >= len(vm.globals) {
				return vm.fault(ErrIndexOutOfRange, "Invalid global slot for %s", op)
			}
			v, err := vm.pop()
			if err != nil {
				return vm.fault(err, "Invalid stack for %s", op)
			}
			old := vm.globals[idx]
			vm.globals[idx] = v
			if old != nil {
				vm.release(old)
			}

		case OpGetGlobal:
			idx, err := frame.operand()
			if err != nil {
				return vm.fault(err, "Invalid operand byte for %s", op)
			}
			if int(idx) >= len(vm.globals) {
				return vm.fault(ErrIndexOutOfRange, "Invalid global slot for %s", op)
			}
			if vm.globals[idx] == nil {
				// Unassigned global reads as nil.
				vm.push(NewNil())
			} else {
				vm.push(vm.globals[idx])
			}

		case OpSetLocal:
			idx, err := frame.operand()
			if err != nil {
				return vm.fault(err, "Invalid operand byte for %s", op)
			}
			v, err := vm.pop()
			if err != nil {
				return vm.fault(err, "Invalid stack for %s", op)
			}
			slot := frame.basePointer + int(idx)
			switch {
			case slot == len(vm.stack):
				// First store into a fresh local extends the stack.
				vm.push(v)
				vm.release(v)
			case slot < len(vm.stack):
				old := vm.stack[slot]
				vm.stack[slot] = v
				vm.release(old)
			default:
				return vm.fault(ErrIndexOutOfRange, "Invalid local slot for %s", op)
			}

		case OpGetLocal:
			idx, err := frame.operand()
			if err != nil {
				return vm.fault(err, "Invalid operand byte for %s", op)
			}
			slot := frame.basePointer + int(idx)
			if slot >= len(vm.stack) {
				return vm.fault(ErrIndexOutOfRange, "Invalid local slot for %s", op)
			}
			vm.push(vm.stack[slot])

		case OpJumpFalse:
			target, err := frame.operand()
			if err != nil {
				return vm.fault(err, "Invalid operand byte for %s", op)
			}
			if int(target) > len(frame.code()) {
				return vm.fault(ErrJumpOutOfRange, "Invalid jump target for %s", op)
			}
			cond, err := vm.peek(0)
			if err != nil {
				return vm.fault(err, "Invalid stack for %s", op)
			}
			if !cond.IsBool() {
				return vm.fault(ErrInvalidOperand, "Invalid operand for %s", op)
			}
			if !cond.Bool() {
				frame.ip = int(target)
			}

		case OpJump, OpLoop:
			target, err := frame.operand()
			if err != nil {
				return vm.fault(err, "Invalid operand byte for %s", op)
			}
			if int(target) > len(frame.code()) {
				return vm.fault(ErrJumpOutOfRange, "Invalid jump target for %s", op)
			}
			frame.ip = int(target)

		case OpCall:
			argc, err := frame.operand()
			if err != nil {
				return vm.fault(err, "Invalid operand byte for %s", op)
			}
			callee, err := vm.peek(int(argc))
			if err != nil {
				return vm.fault(err, "Invalid stack for %s", op)
			}
			if !callee.IsClosure() {
				return vm.fault(ErrInvalidCallee, "Invalid callee for %s", op)
			}
			if len(vm.frames) >= vm.maxFrames {
				return vm.fault(ErrFrameOverflow, "Invalid call depth for %s", op)
			}
			bp := len(vm.stack) - int(argc) - 1
			frame = NewFrame(callee.Closure(), bp)
			vm.frames = append(vm.frames, frame)

		case OpReturn:
			result, err := vm.pop()
			if err != nil {
				return vm.fault(err, "Invalid stack for %s", op)
			}
			vm.truncate(frame.basePointer)
			vm.push(result)
			vm.release(result)
			vm.frames = vm.frames[:len(vm.frames)-1]
			if len(vm.frames) == 0 {
				return nil
			}
			frame = vm.currentFrame()

		case OpClosure:
			idx, err := frame.operand()
			if err != nil {
				return vm.fault(err, "Invalid operand byte for %s", op)
			}
			if int(idx) >= len(vm.constants) {
				return vm.fault(ErrIndexOutOfRange, "Invalid constant index for %s", op)
			}
			fnVal := vm.constants[idx]
			if !fnVal.IsFunction() {
				return vm.fault(ErrInvalidFunction, "Invalid constant for %s", op)
			}
			fn := fnVal.Function()
			clo := &Closure{
				Function: fn,
				Upvalues: make([]*Value, 0, fn.NumUpvalues),
			}
			for i := 0; i < fn.NumUpvalues; i++ {
				isLocal, err := frame.operand()
				if err != nil {
					return vm.fault(err, "Invalid operand byte for %s", op)
				}
				index, err := frame.operand()
				if err != nil {
					return vm.fault(err, "Invalid operand byte for %s", op)
				}
				var src *Value
				if isLocal == 1 {
					slot := frame.basePointer + int(index)
					if slot >= len(vm.stack) {
						return vm.fault(ErrIndexOutOfRange, "Invalid local slot for %s", op)
					}
					src = vm.stack[slot]
				} else {
					if int(index) >= len(frame.closure.Upvalues) {
						return vm.fault(ErrIndexOutOfRange, "Invalid upvalue index for %s", op)
					}
					src = frame.closure.Upvalues[int(index)]
				}
				// By-value capture: the slot holds a copy taken now.
				cp := vm.copyValue(src)
				vm.retain(cp)
				clo.Upvalues = append(clo.Upvalues, cp)
			}
			vm.push(NewClosureValue(clo))

		case OpGetUpvalue:
			idx, err := frame.operand()
			if err != nil {
				return vm.fault(err, "Invalid operand byte for %s", op)
			}
			if int(idx) >= len(frame.closure.Upvalues) {
				return vm.fault(ErrIndexOutOfRange, "Invalid upvalue index for %s", op)
			}
			vm.push(vm.copyValue(frame.closure.Upvalues[int(idx)]))

		case OpSetUpvalue:
			idx, err := frame.operand()
			if err != nil {
				return vm.fault(err, "Invalid operand byte for %s", op)
			}
			if int(idx) >= len(frame.closure.Upvalues) {
				return vm.fault(ErrIndexOutOfRange, "Invalid upvalue index for %s", op)
			}
			v, err := vm.pop()
			if err != nil {
				return vm.fault(err, "Invalid stack for %s", op)
			}
			old := frame.closure.Upvalues[int(idx)]
			frame.closure.Upvalues[int(idx)] = v
			vm.release(old)

		default:
			return vm.fault(ErrUnknownOpcode, "Unknown opcode %d", byte(op))
		}
	}
	return nil
}

// fault writes the message to the VM's output, as the engine's one
// user-visible diagnostic channel, and returns it wrapped around the
// sentinel for the host.
func (vm *VM) fault(sentinel error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(vm.out, msg)
	return fmt.Errorf("vm: %s: %w", msg, sentinel)
}

// ---------------------------------------------------------------------------
// Stack and frame helpers
// ---------------------------------------------------------------------------

func (vm *VM) currentFrame() *Frame {
	return vm.frames[len(vm.frames)-1]
}

// push appends v and takes a reference for the new slot.
func (vm *VM) push(v *Value) {
	vm.retain(v)
	vm.stack = append(vm.stack, v)
}

// pop removes the top slot. The slot's reference transfers to the
// caller, which must release it or hand it to another owner.
func (vm *VM) pop() (*Value, error) {
	if len(vm.stack) == 0 {
		return nil, ErrStackUnderflow
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v, nil
}

// pop2 pops the top two slots, returning them top-first.
func (vm *VM) pop2() (b, a *Value, err error) {
	if b, err = vm.pop(); err != nil {
		return nil, nil, err
	}
	if a, err = vm.pop(); err != nil {
		return nil, nil, err
	}
	return b, a, nil
}

// peek returns the value at the given depth without removing it.
func (vm *VM) peek(depth int) (*Value, error) {
	i := len(vm.stack) - 1 - depth
	if i < 0 {
		return nil, ErrStackUnderflow
	}
	return vm.stack[i], nil
}

// truncate shrinks the stack to n slots, releasing every dropped slot.
func (vm *VM) truncate(n int) {
	for i := len(vm.stack) - 1; i >= n; i-- {
		vm.release(vm.stack[i])
	}
	vm.stack = vm.stack[:n]
}

// StackLen returns the operand stack depth.
func (vm *VM) StackLen() int {
	return len(vm.stack)
}

// StackTop returns the top of the operand stack, or nil when empty.
func (vm *VM) StackTop() *Value {
	if len(vm.stack) == 0 {
		return nil
	}
	return vm.stack[len(vm.stack)-1]
}

// Global returns the value in a global slot; unassigned slots read as
// nil.
func (vm *VM) Global(i int) *Value {
	if i < 0 || i >= len(vm.globals) {
		return nil
	}
	return vm.globals[i]
}

// FrameDepth returns the number of active frames.
func (vm *VM) FrameDepth() int {
	return len(vm.frames)
}
