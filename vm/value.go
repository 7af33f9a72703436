package vm

import (
	"fmt"
	"strconv"
)

// ---------------------------------------------------------------------------
// Value: tagged runtime values
// ---------------------------------------------------------------------------

// ValueType identifies which payload a Value carries.
type ValueType uint8

const (
	TypeInt ValueType = iota
	TypeFloat
	TypeBool
	TypeNil
	TypeString
	TypeFunction
	TypeClosure

	// typeFreed marks a value whose last reference has been released.
	// Reading a freed value is a bug in the engine, not in the chunk.
	typeFreed
)

// Value is a heap-allocated tagged variant. Exactly one payload is
// meaningful at any time, selected by typ. Values carry a reference
// count managed through VM.retain and VM.release; see heap.go.
type Value struct {
	typ ValueType

	i   int64
	f   float64
	b   bool
	s   string
	fn  *Function
	clo *Closure

	refs int32
}

// Function describes executable code. The descriptor itself is immutable
// and shared: the same *Function may be referenced by a constant, by any
// number of closures, and by the frames executing it.
type Function struct {
	Code        []byte
	NumParams   int
	NumUpvalues int
}

// Closure pairs a Function with the upvalue slots captured when the
// closure was formed. Slots are themselves reference-counted Values.
type Closure struct {
	Function *Function
	Upvalues []*Value
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// NewInt creates an Int value with a zero reference count.
func NewInt(i int64) *Value {
	return &Value{typ: TypeInt, i: i}
}

// NewFloat creates a Float value with a zero reference count.
func NewFloat(f float64) *Value {
	return &Value{typ: TypeFloat, f: f}
}

// NewBool creates a Bool value with a zero reference count.
func NewBool(b bool) *Value {
	return &Value{typ: TypeBool, b: b}
}

// NewNil creates a Nil value with a zero reference count.
func NewNil() *Value {
	return &Value{typ: TypeNil}
}

// NewString creates a String value with a zero reference count.
func NewString(s string) *Value {
	return &Value{typ: TypeString, s: s}
}

// NewFunctionValue wraps a Function descriptor in a Value.
func NewFunctionValue(fn *Function) *Value {
	return &Value{typ: TypeFunction, fn: fn}
}

// NewClosureValue wraps a Closure in a Value. The closure's upvalue slots
// must already hold their own references.
func NewClosureValue(clo *Closure) *Value {
	return &Value{typ: TypeClosure, clo: clo}
}

// ---------------------------------------------------------------------------
// Type checking and payload access
// ---------------------------------------------------------------------------

// Type returns the value's payload tag.
func (v *Value) Type() ValueType { return v.typ }

func (v *Value) IsInt() bool { return v.typ == TypeInt }

func (v *Value) IsFloat() bool { return v.typ == TypeFloat }

func (v *Value) IsBool() bool { return v.typ == TypeBool }

func (v *Value) IsNil() bool { return v.typ == TypeNil }

func (v *Value) IsString() bool { return v.typ == TypeString }

func (v *Value) IsFunction() bool { return v.typ == TypeFunction }

func (v *Value) IsClosure() bool { return v.typ == TypeClosure }

// IsNumeric reports whether the value is an Int or a Float.
func (v *Value) IsNumeric() bool { return v.typ == TypeInt || v.typ == TypeFloat }

func (v *Value) Int() int64 { return v.i }

func (v *Value) Float() float64 { return v.f }

func (v *Value) Bool() bool { return v.b }

func (v *Value) Str() string { return v.s }

func (v *Value) Function() *Function { return v.fn }

func (v *Value) Closure() *Closure { return v.clo }

// AsFloat widens a numeric value to float64.
func (v *Value) AsFloat() float64 {
	if v.typ == TypeInt {
		return float64(v.i)
	}
	return v.f
}

// Freed reports whether the value's last reference has been released.
func (v *Value) Freed() bool { return v.typ == typeFreed }

// RefCount returns the current reference count.
func (v *Value) RefCount() int32 { return v.refs }

// ---------------------------------------------------------------------------
// Display
// ---------------------------------------------------------------------------

// Display renders the value the way PRINT shows it.
func (v *Value) Display() string {
	switch v.typ {
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeNil:
		return "nil"
	case TypeString:
		return v.s
	case TypeFunction:
		return fmt.Sprintf("<fn params=%d>", v.fn.NumParams)
	case TypeClosure:
		return fmt.Sprintf("<closure params=%d>", v.clo.Function.NumParams)
	case typeFreed:
		return "<freed>"
	}
	return "<unknown>"
}

// String implements Stringer with a tagged debug rendering.
func (v *Value) String() string {
	switch v.typ {
	case TypeInt:
		return fmt.Sprintf("Int(%d)", v.i)
	case TypeFloat:
		return fmt.Sprintf("Float(%v)", v.f)
	case TypeBool:
		return fmt.Sprintf("Bool(%t)", v.b)
	case TypeNil:
		return "Nil"
	case TypeString:
		return fmt.Sprintf("String(%s)", v.s)
	case TypeFunction:
		return fmt.Sprintf("Function(params=%d upvalues=%d)", v.fn.NumParams, v.fn.NumUpvalues)
	case TypeClosure:
		return fmt.Sprintf("Closure(params=%d upvalues=%d)",
			v.clo.Function.NumParams, len(v.clo.Upvalues))
	case typeFreed:
		return "Freed"
	}
	return "Unknown"
}

// Equal compares two values the way EQ does, without the fault cases:
// same-type by payload, mixed Int/Float numerically, Nil equal to Nil.
// Functions and closures compare by identity.
func (v *Value) Equal(o *Value) bool {
	switch {
	case v.typ == TypeInt && o.typ == TypeInt:
		return v.i == o.i
	case v.IsNumeric() && o.IsNumeric():
		return v.AsFloat() == o.AsFloat()
	case v.typ == TypeBool && o.typ == TypeBool:
		return v.b == o.b
	case v.typ == TypeNil && o.typ == TypeNil:
		return true
	case v.typ == TypeString && o.typ == TypeString:
		return v.s == o.s
	case v.typ == TypeFunction && o.typ == TypeFunction:
		return v.fn == o.fn
	case v.typ == TypeClosure && o.typ == TypeClosure:
		return v.clo == o.clo
	}
	return false
}
