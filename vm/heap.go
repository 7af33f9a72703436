package vm

// ---------------------------------------------------------------------------
// Reference counting
//
// Every value that enters the operand stack, a globals slot, a constant
// slot, or a closure's upvalue list holds one reference. Popping without
// storing, overwriting a slot, and stack truncation at RETURN each drop
// one. A value whose count reaches zero is freed immediately and its
// payload poisoned; a freed value must never be read again.
// ---------------------------------------------------------------------------

// retain takes a reference to v. A value becomes live on its first
// retain; live values are counted until their last release.
func (vm *VM) retain(v *Value) {
	if v.refs == 0 {
		vm.live++
	}
	v.refs++
}

// release drops a reference to v, freeing it at zero.
func (vm *VM) release(v *Value) {
	if v.refs <= 0 {
		panic("vm: release of unreferenced value")
	}
	v.refs--
	if v.refs == 0 {
		vm.free(v)
	}
}

// free destroys a value. Closures drop the references held by their
// upvalue slots before the value itself is poisoned.
func (vm *VM) free(v *Value) {
	vm.live--
	if v.typ == TypeClosure {
		for _, uv := range v.clo.Upvalues {
			vm.release(uv)
		}
	}
	*v = Value{typ: typeFreed}
}

// copyValue duplicates v with a zero reference count. Function
// descriptors are shared; closures are copied slot by slot, each copy
// taking its own reference.
func (vm *VM) copyValue(v *Value) *Value {
	if v.typ != TypeClosure {
		return &Value{typ: v.typ, i: v.i, f: v.f, b: v.b, s: v.s, fn: v.fn}
	}
	clo := &Closure{
		Function: v.clo.Function,
		Upvalues: make([]*Value, len(v.clo.Upvalues)),
	}
	for i, uv := range v.clo.Upvalues {
		c := vm.copyValue(uv)
		vm.retain(c)
		clo.Upvalues[i] = c
	}
	return NewClosureValue(clo)
}

// LiveValues returns the number of values currently holding at least one
// reference. After Close on a normally completed run this is zero.
func (vm *VM) LiveValues() int {
	return vm.live
}
