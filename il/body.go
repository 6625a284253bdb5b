package il

// IndexOf returns the position of instr in the body, or -1.
func (b *MethodBody) IndexOf(instr *Instruction) int {
	for i, in := range b.Instrs {
		if in == instr {
			return i
		}
	}
	return -1
}

// Append adds instructions at the end of the body.
func (b *MethodBody) Append(instrs ...*Instruction) {
	b.Instrs = append(b.Instrs, instrs...)
}

// Prepend inserts instructions at the start of the body. Branches into the
// former first instruction keep their target, so the new prologue runs once.
func (b *MethodBody) Prepend(instrs ...*Instruction) {
	b.Instrs = append(append(make([]*Instruction, 0, len(b.Instrs)+len(instrs)), instrs...), b.Instrs...)
}

// InsertBefore inserts instrs in front of target and retargets every branch
// to target onto the first inserted instruction, so the new code executes
// on every path that previously reached target.
func (b *MethodBody) InsertBefore(target *Instruction, instrs ...*Instruction) bool {
	at := b.IndexOf(target)
	if at < 0 || len(instrs) == 0 {
		return false
	}
	b.Retarget(target, instrs[0])
	b.insertAt(at, instrs)
	return true
}

// InsertAfter inserts instrs directly behind target. Branches are untouched.
func (b *MethodBody) InsertAfter(target *Instruction, instrs ...*Instruction) bool {
	at := b.IndexOf(target)
	if at < 0 {
		return false
	}
	b.insertAt(at+1, instrs)
	return true
}

func (b *MethodBody) insertAt(at int, instrs []*Instruction) {
	out := make([]*Instruction, 0, len(b.Instrs)+len(instrs))
	out = append(out, b.Instrs[:at]...)
	out = append(out, instrs...)
	out = append(out, b.Instrs[at:]...)
	b.Instrs = out
}

// Retarget redirects all branches to from onto to.
func (b *MethodBody) Retarget(from, to *Instruction) {
	for _, in := range b.Instrs {
		if in.Op.IsBranch() && in.Operand == from {
			in.Operand = to
		}
	}
}

// Returns lists the ret instructions of the body in order.
func (b *MethodBody) Returns() []*Instruction {
	var out []*Instruction
	for _, in := range b.Instrs {
		if in.Op == OpRet {
			out = append(out, in)
		}
	}
	return out
}

// AddLocal declares a new local and returns its index.
func (b *MethodBody) AddLocal(t *TypeSig) int {
	b.Locals = append(b.Locals, t)
	return len(b.Locals) - 1
}
