package il

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/weaver/errors"
)

type moduleDoc struct {
	Name       string         `yaml:"name"`
	Mvid       string         `yaml:"mvid,omitempty"`
	References []string       `yaml:"references,omitempty"`
	Attributes []attributeDoc `yaml:"attributes,omitempty"`
	Types      []typeDoc      `yaml:"types,omitempty"`
}

type typeDoc struct {
	Name       string         `yaml:"name"`
	Flags      []string       `yaml:"flags,flow,omitempty"`
	Generic    []genericDoc   `yaml:"generic,omitempty"`
	Base       string         `yaml:"base,omitempty"`
	Interfaces []string       `yaml:"interfaces,omitempty"`
	Attributes []attributeDoc `yaml:"attributes,omitempty"`
	Fields     []fieldDoc     `yaml:"fields,omitempty"`
	Methods    []methodDoc    `yaml:"methods,omitempty"`
	Properties []propertyDoc  `yaml:"properties,omitempty"`
	Events     []eventDoc     `yaml:"events,omitempty"`
	Nested     []typeDoc      `yaml:"nested,omitempty"`
}

type genericDoc struct {
	Name        string   `yaml:"name"`
	Flags       []string `yaml:"flags,flow,omitempty"`
	Constraints []string `yaml:"constraints,flow,omitempty"`
}

type fieldDoc struct {
	Name       string         `yaml:"name"`
	Type       string         `yaml:"type"`
	Flags      []string       `yaml:"flags,flow,omitempty"`
	Attributes []attributeDoc `yaml:"attributes,omitempty"`
}

type methodDoc struct {
	Name       string         `yaml:"name"`
	Flags      []string       `yaml:"flags,flow,omitempty"`
	Generic    []genericDoc   `yaml:"generic,omitempty"`
	Returns    string         `yaml:"returns,omitempty"`
	Params     []string       `yaml:"params,flow,omitempty"`
	Attributes []attributeDoc `yaml:"attributes,omitempty"`
	Locals     []string       `yaml:"locals,flow,omitempty"`
	Body       string         `yaml:"body,omitempty"`
}

type propertyDoc struct {
	Name       string         `yaml:"name"`
	Type       string         `yaml:"type"`
	Get        string         `yaml:"get,omitempty"`
	Set        string         `yaml:"set,omitempty"`
	Attributes []attributeDoc `yaml:"attributes,omitempty"`
}

type eventDoc struct {
	Name       string         `yaml:"name"`
	Type       string         `yaml:"type"`
	Add        string         `yaml:"add,omitempty"`
	Remove     string         `yaml:"remove,omitempty"`
	Attributes []attributeDoc `yaml:"attributes,omitempty"`
}

type attributeDoc struct {
	Type  string              `yaml:"type"`
	Args  []argValue          `yaml:"args,flow,omitempty"`
	Named map[string]argValue `yaml:"named,omitempty"`
}

// argValue carries one annotation argument. Plain scalars map to int,
// double, bool and string; {long: n}, {float: n}, {double: n} and
// {typeof: T} select the other kinds.
type argValue struct {
	v any
}

// UnmarshalYAML accepts the scalar shorthand "T" for a parameter without constraints.
func (g *genericDoc) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		g.Name = n.Value
		return nil
	}
	type plain genericDoc
	return n.Decode((*plain)(g))
}

// MarshalYAML writes unconstrained parameters as a plain scalar.
func (g genericDoc) MarshalYAML() (any, error) {
	if len(g.Flags) == 0 && len(g.Constraints) == 0 {
		return g.Name, nil
	}
	type plain genericDoc
	return plain(g), nil
}

// UnmarshalYAML accepts the scalar shorthand "Ns.FooAttribute" for an annotation without arguments.
func (a *attributeDoc) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		a.Type = n.Value
		return nil
	}
	type plain attributeDoc
	return n.Decode((*plain)(a))
}

func (a attributeDoc) MarshalYAML() (any, error) {
	if len(a.Args) == 0 && len(a.Named) == 0 {
		return a.Type, nil
	}
	type plain attributeDoc
	return plain(a), nil
}

func (a *argValue) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		switch n.Tag {
		case "!!int":
			var v int32
			if err := n.Decode(&v); err != nil {
				return err
			}
			a.v = v
		case "!!float":
			var v float64
			if err := n.Decode(&v); err != nil {
				return err
			}
			a.v = v
		case "!!bool":
			var v bool
			if err := n.Decode(&v); err != nil {
				return err
			}
			a.v = v
		case "!!null":
			a.v = nil
		default:
			a.v = n.Value
		}
		return nil
	case yaml.MappingNode:
		if len(n.Content) != 2 {
			return fmt.Errorf("line %d: argument mapping must have exactly one key", n.Line)
		}
		key, val := n.Content[0].Value, n.Content[1]
		switch key {
		case "typeof":
			t, err := ParseSig(val.Value)
			if err != nil {
				return fmt.Errorf("line %d: %w", n.Line, err)
			}
			a.v = t
		case "long":
			var v int64
			if err := val.Decode(&v); err != nil {
				return err
			}
			a.v = v
		case "float":
			var v float32
			if err := val.Decode(&v); err != nil {
				return err
			}
			a.v = v
		case "double":
			var v float64
			if err := val.Decode(&v); err != nil {
				return err
			}
			a.v = v
		case "string":
			a.v = val.Value
		default:
			return fmt.Errorf("line %d: unknown argument kind %q", n.Line, key)
		}
		return nil
	}
	return fmt.Errorf("line %d: unsupported argument node", n.Line)
}

func (a argValue) MarshalYAML() (any, error) {
	switch v := a.v.(type) {
	case int64:
		return map[string]int64{"long": v}, nil
	case float32:
		return map[string]float32{"float": v}, nil
	case float64:
		if v == math.Trunc(v) {
			return map[string]float64{"double": v}, nil
		}
	case *TypeSig:
		return map[string]string{"typeof": v.String()}, nil
	}
	return a.v, nil
}

var (
	typeFlagNames = []flagName[TypeFlags]{
		{TypePublic, "public"}, {TypeAbstract, "abstract"}, {TypeSealed, "sealed"},
		{TypeInterface, "interface"}, {TypeValueType, "valuetype"}, {TypeSynthetic, "synthetic"},
	}
	methodFlagNames = []flagName[MethodFlags]{
		{MethodPublic, "public"}, {MethodPrivate, "private"}, {MethodFamily, "family"},
		{MethodStatic, "static"}, {MethodVirtual, "virtual"}, {MethodAbstract, "abstract"},
		{MethodExtern, "extern"}, {MethodSpecialName, "specialname"}, {MethodSynthetic, "synthetic"},
	}
	fieldFlagNames = []flagName[FieldFlags]{
		{FieldPublic, "public"}, {FieldPrivate, "private"}, {FieldFamily, "family"},
		{FieldStatic, "static"}, {FieldInitOnly, "initonly"}, {FieldSynthetic, "synthetic"},
	}
	genericFlagNames = []flagName[GenericParamFlags]{
		{GenericReferenceType, "class"}, {GenericValueType, "struct"}, {GenericDefaultCtor, "new"},
	}
)

type flagName[F ~uint8 | ~uint32] struct {
	flag F
	name string
}

func parseFlags[F ~uint8 | ~uint32](names []string, table []flagName[F]) (F, error) {
	var out F
	for _, n := range names {
		found := false
		for _, fn := range table {
			if fn.name == n {
				out |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown flag %q", n)
		}
	}
	return out, nil
}

func formatFlags[F ~uint8 | ~uint32](flags F, table []flagName[F]) []string {
	var out []string
	for _, fn := range table {
		if flags&fn.flag != 0 {
			out = append(out, fn.name)
		}
	}
	return out
}

// Decode reads a module from its YAML container form.
func Decode(data []byte) (*Module, error) {
	var doc moduleDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.ParseFailed("module document", err)
	}
	d := &decoder{}
	m, err := d.module(&doc)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// LoadFile reads and decodes a module file.
func LoadFile(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindNotFound).
			Path(path).Detail("read module file").Cause(err).Build()
	}
	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

type decoder struct {
	path []string
}

func (d *decoder) fail(detail string, cause error) error {
	return errors.New(errors.PhaseLoad, errors.KindInvalidData).
		Path(d.path...).Detail("%s", detail).Cause(cause).Build()
}

func (d *decoder) sig(src string) (*TypeSig, error) {
	t, err := ParseSig(strings.TrimSpace(src))
	if err != nil {
		return nil, d.fail("type signature "+src, err)
	}
	return t, nil
}

func (d *decoder) sigs(srcs []string) ([]*TypeSig, error) {
	out := make([]*TypeSig, 0, len(srcs))
	for _, s := range srcs {
		t, err := d.sig(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (d *decoder) module(doc *moduleDoc) (*Module, error) {
	m := &Module{Name: doc.Name, References: doc.References}
	if doc.Name == "" {
		return nil, d.fail("module name is required", nil)
	}
	d.path = []string{doc.Name}
	if doc.Mvid != "" {
		id, err := uuid.Parse(doc.Mvid)
		if err != nil {
			return nil, d.fail("mvid", err)
		}
		m.Mvid = id
	} else {
		m.Mvid = uuid.New()
	}
	attrs, err := d.attributes(doc.Attributes)
	if err != nil {
		return nil, err
	}
	m.Attributes = attrs
	for i := range doc.Types {
		t, err := d.typeDef(&doc.Types[i], m)
		if err != nil {
			return nil, err
		}
		m.AddType(t)
	}
	return m, nil
}

func (d *decoder) typeDef(doc *typeDoc, m *Module) (*TypeDef, error) {
	d.path = append(d.path, doc.Name)
	defer func() { d.path = d.path[:len(d.path)-1] }()

	t := &TypeDef{Module: m}
	t.Namespace, t.Name = SplitFullName(doc.Name)
	flags, err := parseFlags(doc.Flags, typeFlagNames)
	if err != nil {
		return nil, d.fail("type flags", err)
	}
	t.Flags = flags
	if t.GenericParams, err = d.generics(doc.Generic, OwnerType); err != nil {
		return nil, err
	}
	if doc.Base != "" {
		if t.BaseType, err = d.sig(doc.Base); err != nil {
			return nil, err
		}
	}
	if t.Interfaces, err = d.sigs(doc.Interfaces); err != nil {
		return nil, err
	}
	if t.Attributes, err = d.attributes(doc.Attributes); err != nil {
		return nil, err
	}
	for _, fd := range doc.Fields {
		f := &FieldDef{Name: fd.Name}
		if f.Type, err = d.sig(fd.Type); err != nil {
			return nil, err
		}
		if f.Flags, err = parseFlags(fd.Flags, fieldFlagNames); err != nil {
			return nil, d.fail("field flags of "+fd.Name, err)
		}
		if f.Attributes, err = d.attributes(fd.Attributes); err != nil {
			return nil, err
		}
		t.AddField(f)
	}
	for i := range doc.Methods {
		md, err := d.method(&doc.Methods[i])
		if err != nil {
			return nil, err
		}
		t.AddMethod(md)
	}
	accessor := func(owner, name string) (*MethodDef, error) {
		if name == "" {
			return nil, nil
		}
		ms := t.MethodsNamed(name)
		if len(ms) == 0 {
			return nil, errors.MemberNotFound(errors.PhaseLoad, t.FullName(), name)
		}
		ms[0].Flags |= MethodSpecialName
		return ms[0], nil
	}
	for _, pd := range doc.Properties {
		p := &PropertyDef{Name: pd.Name}
		if p.Type, err = d.sig(pd.Type); err != nil {
			return nil, err
		}
		if p.Getter, err = accessor(pd.Name, pd.Get); err != nil {
			return nil, err
		}
		if p.Setter, err = accessor(pd.Name, pd.Set); err != nil {
			return nil, err
		}
		if p.Attributes, err = d.attributes(pd.Attributes); err != nil {
			return nil, err
		}
		t.AddProperty(p)
	}
	for _, ed := range doc.Events {
		e := &EventDef{Name: ed.Name}
		if e.HandlerType, err = d.sig(ed.Type); err != nil {
			return nil, err
		}
		if e.Adder, err = accessor(ed.Name, ed.Add); err != nil {
			return nil, err
		}
		if e.Remover, err = accessor(ed.Name, ed.Remove); err != nil {
			return nil, err
		}
		if e.Attributes, err = d.attributes(ed.Attributes); err != nil {
			return nil, err
		}
		t.AddEvent(e)
	}
	for i := range doc.Nested {
		n, err := d.typeDef(&doc.Nested[i], m)
		if err != nil {
			return nil, err
		}
		t.AddNestedType(n)
		n.Name = doc.Nested[i].Name
	}
	return t, nil
}

func (d *decoder) method(doc *methodDoc) (*MethodDef, error) {
	d.path = append(d.path, doc.Name)
	defer func() { d.path = d.path[:len(d.path)-1] }()

	m := &MethodDef{Name: doc.Name}
	var err error
	if m.Flags, err = parseFlags(doc.Flags, methodFlagNames); err != nil {
		return nil, d.fail("method flags", err)
	}
	if m.Name == CtorName || m.Name == TypeInitName {
		m.Flags |= MethodSpecialName
	}
	if m.Name == TypeInitName {
		m.Flags |= MethodStatic
	}
	if m.GenericParams, err = d.generics(doc.Generic, OwnerMethod); err != nil {
		return nil, err
	}
	ret := doc.Returns
	if ret == "" {
		ret = TypeVoid
	}
	if m.ReturnType, err = d.sig(ret); err != nil {
		return nil, err
	}
	for i, p := range doc.Params {
		p = strings.TrimSpace(p)
		typ, name := p, fmt.Sprintf("arg%d", i)
		if sp := strings.LastIndexByte(p, ' '); sp > 0 {
			typ, name = p[:sp], p[sp+1:]
		}
		ps, err := d.sig(typ)
		if err != nil {
			return nil, err
		}
		m.Params = append(m.Params, &Param{Name: name, Type: ps})
	}
	if m.Attributes, err = d.attributes(doc.Attributes); err != nil {
		return nil, err
	}
	if m.IsAbstract() || m.IsExtern() {
		return m, nil
	}
	body := &MethodBody{}
	if body.Locals, err = d.sigs(doc.Locals); err != nil {
		return nil, err
	}
	if body.Instrs, err = ParseBody(doc.Body); err != nil {
		return nil, d.fail("method body", err)
	}
	m.Body = body
	return m, nil
}

func (d *decoder) generics(docs []genericDoc, owner GenericOwner) ([]*GenericParam, error) {
	var out []*GenericParam
	for i, g := range docs {
		flags, err := parseFlags(g.Flags, genericFlagNames)
		if err != nil {
			return nil, d.fail("generic parameter "+g.Name, err)
		}
		cons, err := d.sigs(g.Constraints)
		if err != nil {
			return nil, err
		}
		out = append(out, &GenericParam{Name: g.Name, Index: i, Owner: owner, Flags: flags, Constraints: cons})
	}
	return out, nil
}

func (d *decoder) attributes(docs []attributeDoc) ([]*Attribute, error) {
	var out []*Attribute
	for _, ad := range docs {
		t, err := d.sig(ad.Type)
		if err != nil {
			return nil, err
		}
		a := &Attribute{Type: t}
		for _, v := range ad.Args {
			a.Args = append(a.Args, v.v)
		}
		names := make([]string, 0, len(ad.Named))
		for n := range ad.Named {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			a.Named = append(a.Named, NamedArg{Name: n, Value: ad.Named[n].v})
		}
		out = append(out, a)
	}
	return out, nil
}

// Encode renders a module in its YAML container form.
func Encode(m *Module) ([]byte, error) {
	doc := moduleDoc{Name: m.Name, References: m.References, Attributes: encodeAttributes(m.Attributes)}
	if m.Mvid != uuid.Nil {
		doc.Mvid = m.Mvid.String()
	}
	for _, t := range m.Types {
		doc.Types = append(doc.Types, encodeType(t, t.FullName()))
	}
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "encode module "+m.Name)
	}
	return out, nil
}

func encodeType(t *TypeDef, name string) typeDoc {
	doc := typeDoc{
		Name:       name,
		Flags:      formatFlags(t.Flags, typeFlagNames),
		Generic:    encodeGenerics(t.GenericParams),
		Interfaces: sigStrings(t.Interfaces),
		Attributes: encodeAttributes(t.Attributes),
	}
	if t.BaseType != nil {
		doc.Base = t.BaseType.String()
	}
	for _, f := range t.Fields {
		doc.Fields = append(doc.Fields, fieldDoc{
			Name:       f.Name,
			Type:       f.Type.String(),
			Flags:      formatFlags(f.Flags, fieldFlagNames),
			Attributes: encodeAttributes(f.Attributes),
		})
	}
	for _, m := range t.Methods {
		doc.Methods = append(doc.Methods, encodeMethod(m))
	}
	for _, p := range t.Properties {
		pd := propertyDoc{Name: p.Name, Type: p.Type.String(), Attributes: encodeAttributes(p.Attributes)}
		if p.Getter != nil {
			pd.Get = p.Getter.Name
		}
		if p.Setter != nil {
			pd.Set = p.Setter.Name
		}
		doc.Properties = append(doc.Properties, pd)
	}
	for _, e := range t.Events {
		ed := eventDoc{Name: e.Name, Type: e.HandlerType.String(), Attributes: encodeAttributes(e.Attributes)}
		if e.Adder != nil {
			ed.Add = e.Adder.Name
		}
		if e.Remover != nil {
			ed.Remove = e.Remover.Name
		}
		doc.Events = append(doc.Events, ed)
	}
	for _, n := range t.NestedTypes {
		doc.Nested = append(doc.Nested, encodeType(n, n.Name))
	}
	return doc
}

func encodeMethod(m *MethodDef) methodDoc {
	flags := m.Flags
	if m.Name == CtorName || m.Name == TypeInitName {
		flags &^= MethodSpecialName
	}
	if m.Name == TypeInitName {
		flags &^= MethodStatic
	}
	doc := methodDoc{
		Name:       m.Name,
		Flags:      formatFlags(flags, methodFlagNames),
		Generic:    encodeGenerics(m.GenericParams),
		Attributes: encodeAttributes(m.Attributes),
	}
	if !m.ReturnType.IsVoid() {
		doc.Returns = m.ReturnType.String()
	}
	for _, p := range m.Params {
		doc.Params = append(doc.Params, p.Type.String()+" "+p.Name)
	}
	if m.Body != nil {
		doc.Locals = sigStrings(m.Body.Locals)
		doc.Body = FormatBody(m.Body.Instrs)
	}
	return doc
}

func encodeGenerics(gps []*GenericParam) []genericDoc {
	var out []genericDoc
	for _, g := range gps {
		out = append(out, genericDoc{
			Name:        g.Name,
			Flags:       formatFlags(g.Flags, genericFlagNames),
			Constraints: sigStrings(g.Constraints),
		})
	}
	return out
}

func encodeAttributes(attrs []*Attribute) []attributeDoc {
	var out []attributeDoc
	for _, a := range attrs {
		ad := attributeDoc{Type: a.Type.String()}
		for _, v := range a.Args {
			ad.Args = append(ad.Args, argValue{v})
		}
		if len(a.Named) > 0 {
			ad.Named = make(map[string]argValue, len(a.Named))
			for _, n := range a.Named {
				ad.Named[n.Name] = argValue{n.Value}
			}
		}
		out = append(out, ad)
	}
	return out
}

func sigStrings(sigs []*TypeSig) []string {
	if len(sigs) == 0 {
		return nil
	}
	out := make([]string, len(sigs))
	for i, s := range sigs {
		out[i] = s.String()
	}
	return out
}
