package il

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// scanner walks a single line of assembler text.
type scanner struct {
	src string
	pos int
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.src) && unicode.IsSpace(rune(s.src[s.pos])) {
		s.pos++
	}
}

func (s *scanner) eof() bool {
	s.skipSpace()
	return s.pos >= len(s.src)
}

func (s *scanner) peek() byte {
	s.skipSpace()
	if s.pos >= len(s.src) {
		return 0
	}
	return s.src[s.pos]
}

func (s *scanner) hasPrefix(p string) bool {
	s.skipSpace()
	return strings.HasPrefix(s.src[s.pos:], p)
}

func (s *scanner) accept(p string) bool {
	if s.hasPrefix(p) {
		s.pos += len(p)
		return true
	}
	return false
}

func (s *scanner) expect(p string) error {
	if !s.accept(p) {
		return fmt.Errorf("expected %q at %q", p, s.rest())
	}
	return nil
}

func (s *scanner) rest() string { return s.src[min(s.pos, len(s.src)):] }

func isTypeNameChar(c byte) bool {
	return c == '.' || c == '_' || c == '`' || c == '/' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isMemberNameChar(c byte) bool {
	return c == '.' || c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (s *scanner) word(valid func(byte) bool) string {
	s.skipSpace()
	start := s.pos
	for s.pos < len(s.src) && valid(s.src[s.pos]) {
		s.pos++
	}
	return s.src[start:s.pos]
}

func (s *scanner) integer() (int, error) {
	s.skipSpace()
	start := s.pos
	if s.pos < len(s.src) && (s.src[s.pos] == '-' || s.src[s.pos] == '+') {
		s.pos++
	}
	for s.pos < len(s.src) && s.src[s.pos] >= '0' && s.src[s.pos] <= '9' {
		s.pos++
	}
	n, err := strconv.Atoi(s.src[start:s.pos])
	if err != nil {
		return 0, fmt.Errorf("invalid integer at %q", s.src[start:])
	}
	return n, nil
}

func (s *scanner) sig() (*TypeSig, error) {
	var t *TypeSig
	switch {
	case s.accept("!!"):
		n, err := s.integer()
		if err != nil {
			return nil, err
		}
		t = MVar(n)
	case s.accept("!"):
		n, err := s.integer()
		if err != nil {
			return nil, err
		}
		t = Var(n)
	default:
		name := s.word(isTypeNameChar)
		if name == "" {
			return nil, fmt.Errorf("expected type at %q", s.rest())
		}
		t = Named(name)
		if s.peek() == '<' {
			args, err := s.sigList('<', '>')
			if err != nil {
				return nil, err
			}
			t.Args = args
		}
	}
	for s.accept("[]") {
		t = ArrayOf(t)
	}
	return t, nil
}

// sigList parses open sig (',' sig)* close; the list may be empty.
func (s *scanner) sigList(open, close byte) ([]*TypeSig, error) {
	if err := s.expect(string(open)); err != nil {
		return nil, err
	}
	var out []*TypeSig
	if s.accept(string(close)) {
		return out, nil
	}
	for {
		t, err := s.sig()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		if s.accept(",") {
			continue
		}
		if err := s.expect(string(close)); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func (s *scanner) methodRef() (*MethodRef, error) {
	r := &MethodRef{}
	if s.hasPrefix("instance ") {
		s.pos += len("instance ")
		r.HasThis = true
	}
	ret, err := s.sig()
	if err != nil {
		return nil, fmt.Errorf("return type: %w", err)
	}
	r.ReturnType = ret
	decl, err := s.sig()
	if err != nil {
		return nil, fmt.Errorf("declaring type: %w", err)
	}
	r.DeclaringType = decl
	if err := s.expect("::"); err != nil {
		return nil, err
	}
	r.Name = s.word(isMemberNameChar)
	if r.Name == "" {
		return nil, fmt.Errorf("expected method name at %q", s.rest())
	}
	switch {
	case s.peek() == '<':
		args, err := s.sigList('<', '>')
		if err != nil {
			return nil, err
		}
		r.GenericArgs = args
		r.GenericArity = len(args)
	case s.accept("`"):
		n, err := s.integer()
		if err != nil {
			return nil, err
		}
		r.GenericArity = n
	}
	params, err := s.sigList('(', ')')
	if err != nil {
		return nil, fmt.Errorf("parameters of %s: %w", r.Name, err)
	}
	r.Params = params
	return r, nil
}

func (s *scanner) fieldRef() (*FieldRef, error) {
	ft, err := s.sig()
	if err != nil {
		return nil, fmt.Errorf("field type: %w", err)
	}
	decl, err := s.sig()
	if err != nil {
		return nil, fmt.Errorf("declaring type: %w", err)
	}
	if err := s.expect("::"); err != nil {
		return nil, err
	}
	name := s.word(isMemberNameChar)
	if name == "" {
		return nil, fmt.Errorf("expected field name at %q", s.rest())
	}
	return &FieldRef{DeclaringType: decl, Type: ft, Name: name}, nil
}

func parseWhole[T any](src string, parse func(*scanner) (T, error)) (T, error) {
	s := &scanner{src: src}
	v, err := parse(s)
	if err != nil {
		var zero T
		return zero, err
	}
	if !s.eof() {
		var zero T
		return zero, fmt.Errorf("unexpected trailing input %q", s.rest())
	}
	return v, nil
}

// ParseSig parses a type signature such as "Ns.List`1<int>[]" or "!!0".
func ParseSig(src string) (*TypeSig, error) {
	return parseWhole(src, (*scanner).sig)
}

// MustSig is ParseSig that panics on malformed input. Intended for literals.
func MustSig(src string) *TypeSig {
	t, err := ParseSig(src)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseMethodRef parses "[instance] RET DECL::NAME[<args>|`N](params)".
func ParseMethodRef(src string) (*MethodRef, error) {
	return parseWhole(src, (*scanner).methodRef)
}

// ParseFieldRef parses "TYPE DECL::NAME".
func ParseFieldRef(src string) (*FieldRef, error) {
	return parseWhole(src, (*scanner).fieldRef)
}

// ParseBody assembles a method body. Each line holds one instruction,
// optionally preceded by "LABEL:"; "//" starts a comment.
func ParseBody(src string) ([]*Instruction, error) {
	var (
		instrs  []*Instruction
		labels  = map[string]*Instruction{}
		pending []string
		fixups  = map[*Instruction]string{}
	)
	for n, line := range strings.Split(src, "\n") {
		if i := strings.Index(line, "//"); i >= 0 && !strings.Contains(line[:i], "\"") {
			line = line[:i]
		}
		s := &scanner{src: line}
		if s.eof() {
			continue
		}
		for {
			save := s.pos
			w := s.word(isMemberNameChar)
			if w != "" && s.hasPrefix(":") && !s.hasPrefix("::") {
				s.accept(":")
				pending = append(pending, w)
				continue
			}
			s.pos = save
			break
		}
		if s.eof() {
			continue
		}
		in, label, err := parseInstruction(s)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		for _, l := range pending {
			if _, dup := labels[l]; dup {
				return nil, fmt.Errorf("line %d: duplicate label %q", n+1, l)
			}
			labels[l] = in
		}
		pending = pending[:0]
		if label != "" {
			fixups[in] = label
		}
		instrs = append(instrs, in)
	}
	if len(pending) > 0 {
		return nil, fmt.Errorf("label %q does not precede an instruction", pending[0])
	}
	for in, l := range fixups {
		target, ok := labels[l]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", l)
		}
		in.Operand = target
	}
	return instrs, nil
}

func parseInstruction(s *scanner) (*Instruction, string, error) {
	mnemonic := s.word(func(c byte) bool { return c == '.' || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') })
	op, ok := LookupOpcode(mnemonic)
	if !ok {
		return nil, "", fmt.Errorf("unknown opcode %q", mnemonic)
	}
	in := &Instruction{Op: op}
	var label string
	var err error
	switch op.Operand() {
	case OperandNone:
	case OperandIndex:
		in.Operand, err = s.integer()
	case OperandInt32:
		var v int64
		v, err = strconv.ParseInt(strings.TrimSpace(s.rest()), 0, 32)
		in.Operand = int32(v)
		s.pos = len(s.src)
	case OperandInt64:
		var v int64
		v, err = strconv.ParseInt(strings.TrimSpace(s.rest()), 0, 64)
		in.Operand = v
		s.pos = len(s.src)
	case OperandFloat32:
		var v float64
		v, err = strconv.ParseFloat(strings.TrimSpace(s.rest()), 32)
		in.Operand = float32(v)
		s.pos = len(s.src)
	case OperandFloat64:
		in.Operand, err = strconv.ParseFloat(strings.TrimSpace(s.rest()), 64)
		s.pos = len(s.src)
	case OperandString:
		in.Operand, err = strconv.Unquote(strings.TrimSpace(s.rest()))
		s.pos = len(s.src)
	case OperandType:
		in.Operand, err = s.sig()
	case OperandMethod:
		in.Operand, err = s.methodRef()
	case OperandField:
		in.Operand, err = s.fieldRef()
	case OperandBranch:
		label = s.word(isMemberNameChar)
		if label == "" {
			err = fmt.Errorf("%s requires a label", op)
		}
	}
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	if !s.eof() {
		return nil, "", fmt.Errorf("%s: unexpected trailing input %q", op, s.rest())
	}
	return in, label, nil
}

// FormatInstruction renders one instruction; labels names branch targets.
func FormatInstruction(in *Instruction, labels map[*Instruction]string) string {
	name := in.Op.String()
	switch v := in.Operand.(type) {
	case nil:
		return name
	case int:
		return name + " " + strconv.Itoa(v)
	case int32:
		return name + " " + strconv.FormatInt(int64(v), 10)
	case int64:
		return name + " " + strconv.FormatInt(v, 10)
	case float32:
		return name + " " + strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return name + " " + strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return name + " " + strconv.Quote(v)
	case *TypeSig:
		return name + " " + v.String()
	case *MethodRef:
		return name + " " + v.String()
	case *FieldRef:
		return name + " " + v.String()
	case *Instruction:
		if l, ok := labels[v]; ok {
			return name + " " + l
		}
		return name + " ?"
	}
	return fmt.Sprintf("%s %v", name, in.Operand)
}

// FormatBody renders instructions in the syntax accepted by ParseBody.
// Branch targets get labels named after their position.
func FormatBody(instrs []*Instruction) string {
	labels := map[*Instruction]string{}
	for _, in := range instrs {
		if t := in.Target(); t != nil {
			labels[t] = ""
		}
	}
	var targets []int
	for i, in := range instrs {
		if _, ok := labels[in]; ok {
			targets = append(targets, i)
		}
	}
	sort.Ints(targets)
	for _, i := range targets {
		labels[instrs[i]] = fmt.Sprintf("IL_%04d", i)
	}
	var b strings.Builder
	for _, in := range instrs {
		if l := labels[in]; l != "" {
			b.WriteString(l)
			b.WriteString(": ")
		}
		b.WriteString(FormatInstruction(in, labels))
		b.WriteByte('\n')
	}
	return b.String()
}
