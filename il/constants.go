package il

// Opcode identifies an instruction.
type Opcode uint8

// Instruction set. The stack discipline follows the usual managed-code model:
// arguments are pushed left to right, the instance argument first.
const (
	OpNop       Opcode = iota
	OpLdarg            // push argument n
	OpStarg            // pop into argument n
	OpLdloc            // push local n
	OpStloc            // pop into local n
	OpLdcI4            // push int
	OpLdcI8            // push long
	OpLdcR4            // push float
	OpLdcR8            // push double
	OpLdstr            // push string
	OpLdnull           // push null
	OpDup              // duplicate top of stack
	OpPop              // discard top of stack
	OpLdfld            // obj -> value
	OpStfld            // obj, value ->
	OpLdsfld           // -> value
	OpStsfld           // value ->
	OpCall             // args -> result
	OpCallvirt         // obj, args -> result (virtual dispatch)
	OpNewobj           // args -> obj
	OpLdftn            // -> method handle
	OpRet              // return
	OpBr               // unconditional branch
	OpBrtrue           // value -> ; branch when non-zero / non-null
	OpBrfalse          // value -> ; branch when zero / null
	OpBox              // value -> object
	OpUnboxAny         // object -> value
	OpCastclass        // object -> object
	OpNewarr           // length -> array
	OpLdelem           // array, index -> value
	OpStelem           // array, index, value ->
	OpLdlen            // array -> length
	OpLdtoken          // -> runtime type handle
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpCeq
	OpClt
	OpCgt
	OpThrow // exception ->

	opcodeCount
)

// OperandKind describes the operand an opcode carries.
type OperandKind uint8

const (
	OperandNone    OperandKind = iota
	OperandIndex               // int: argument or local index
	OperandInt32               // int32
	OperandInt64               // int64
	OperandFloat32             // float32
	OperandFloat64             // float64
	OperandString              // string
	OperandType                // *TypeSig
	OperandMethod              // *MethodRef
	OperandField               // *FieldRef
	OperandBranch              // *Instruction
)

var opcodeNames = [opcodeCount]string{
	OpNop:       "nop",
	OpLdarg:     "ldarg",
	OpStarg:     "starg",
	OpLdloc:     "ldloc",
	OpStloc:     "stloc",
	OpLdcI4:     "ldc.i4",
	OpLdcI8:     "ldc.i8",
	OpLdcR4:     "ldc.r4",
	OpLdcR8:     "ldc.r8",
	OpLdstr:     "ldstr",
	OpLdnull:    "ldnull",
	OpDup:       "dup",
	OpPop:       "pop",
	OpLdfld:     "ldfld",
	OpStfld:     "stfld",
	OpLdsfld:    "ldsfld",
	OpStsfld:    "stsfld",
	OpCall:      "call",
	OpCallvirt:  "callvirt",
	OpNewobj:    "newobj",
	OpLdftn:     "ldftn",
	OpRet:       "ret",
	OpBr:        "br",
	OpBrtrue:    "brtrue",
	OpBrfalse:   "brfalse",
	OpBox:       "box",
	OpUnboxAny:  "unbox.any",
	OpCastclass: "castclass",
	OpNewarr:    "newarr",
	OpLdelem:    "ldelem",
	OpStelem:    "stelem",
	OpLdlen:     "ldlen",
	OpLdtoken:   "ldtoken",
	OpAdd:       "add",
	OpSub:       "sub",
	OpMul:       "mul",
	OpDiv:       "div",
	OpCeq:       "ceq",
	OpClt:       "clt",
	OpCgt:       "cgt",
	OpThrow:     "throw",
}

var opcodeOperands = [opcodeCount]OperandKind{
	OpLdarg:     OperandIndex,
	OpStarg:     OperandIndex,
	OpLdloc:     OperandIndex,
	OpStloc:     OperandIndex,
	OpLdcI4:     OperandInt32,
	OpLdcI8:     OperandInt64,
	OpLdcR4:     OperandFloat32,
	OpLdcR8:     OperandFloat64,
	OpLdstr:     OperandString,
	OpLdfld:     OperandField,
	OpStfld:     OperandField,
	OpLdsfld:    OperandField,
	OpStsfld:    OperandField,
	OpCall:      OperandMethod,
	OpCallvirt:  OperandMethod,
	OpNewobj:    OperandMethod,
	OpLdftn:     OperandMethod,
	OpBr:        OperandBranch,
	OpBrtrue:    OperandBranch,
	OpBrfalse:   OperandBranch,
	OpBox:       OperandType,
	OpUnboxAny:  OperandType,
	OpCastclass: OperandType,
	OpNewarr:    OperandType,
	OpLdtoken:   OperandType,
}

var opcodeByName map[string]Opcode

func init() {
	opcodeByName = make(map[string]Opcode, opcodeCount)
	for op, name := range opcodeNames {
		opcodeByName[name] = Opcode(op)
	}
}

// String returns the assembler mnemonic.
func (op Opcode) String() string {
	if op < opcodeCount {
		return opcodeNames[op]
	}
	return "unknown"
}

// Operand returns the operand kind of the opcode.
func (op Opcode) Operand() OperandKind {
	if op < opcodeCount {
		return opcodeOperands[op]
	}
	return OperandNone
}

// IsBranch reports whether the opcode transfers control to a label.
func (op Opcode) IsBranch() bool { return op.Operand() == OperandBranch }

// IsCall reports whether the opcode invokes a method.
func (op Opcode) IsCall() bool { return op == OpCall || op == OpCallvirt || op == OpNewobj }

// LookupOpcode resolves an assembler mnemonic.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}
