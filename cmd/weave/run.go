package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/weaver/il"
	"github.com/wippyai/weaver/vm"
	"github.com/wippyai/weaver/weave"
)

func newRunCommand() *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:   "run <module.yaml> [Type::Method [args...]]",
		Short: "Weave a module in memory and call a static method",
		Long: `Weave the module unless it is already woven, load it into the
interpreter and call a static method. Annotation types without a Go
binding get tracing hosts that log each call and proceed unchanged.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			if interactive {
				if !term.IsTerminal(int(os.Stdout.Fd())) {
					return fmt.Errorf("interactive mode needs a terminal")
				}
				return runInteractive(cfg, args[0])
			}
			if len(args) < 2 {
				return fmt.Errorf("missing Type::Method")
			}
			return runMethod(cmd.Context(), cfg, args[0], args[1], args[2:], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Interactive mode with TUI")
	return cmd
}

// session is a woven module loaded into a machine.
type session struct {
	mod    *il.Module
	report *weave.Report
	m      *vm.Machine
}

func openSession(cfg *Config, path string, trace io.Writer) (*session, error) {
	wcfg, err := cfg.weaveConfig()
	if err != nil {
		return nil, err
	}
	mod, err := il.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	s := &session{mod: mod}
	if !weave.IsWoven(mod) {
		if s.report, err = weave.Transform(mod, wcfg); err != nil {
			return nil, fmt.Errorf("weave %s: %w", path, err)
		}
	}

	mods := append([]*il.Module{mod}, wcfg.References...)
	if s.m, err = vm.New(vm.Config{Modules: mods}); err != nil {
		return nil, err
	}
	if _, err := bindTracers(s.m, trace, mods...); err != nil {
		return nil, err
	}
	return s, nil
}

// call invokes a static method, converting string arguments to the
// parameter types and waiting for returned tasks.
func (s *session) call(ctx context.Context, td *il.TypeDef, md *il.MethodDef, raw []string) (any, error) {
	if len(raw) != len(md.Params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", md.Signature(), len(md.Params), len(raw))
	}
	args := make([]any, len(raw))
	for i, v := range raw {
		a, err := convertArg(v, md.Params[i].Type)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", md.Params[i].Name, err)
		}
		args[i] = a
	}
	r, err := s.m.CallStatic(ctx, td.FullName(), md.Signature(), args...)
	if err != nil {
		return nil, err
	}
	if task, ok := r.(*vm.Task); ok {
		return task.WaitContext(ctx)
	}
	return r, nil
}

// entryPoints lists the static methods that can be called from the command
// line: public, non-generic and with primitive parameters.
func (s *session) entryPoints() []entryPoint {
	var out []entryPoint
	for _, td := range s.mod.AllTypes() {
		if td.Flags&il.TypeSynthetic != 0 || len(td.GenericParams) > 0 {
			continue
		}
		for _, md := range td.Methods {
			if !md.IsStatic() || md.Flags&il.MethodPublic == 0 || md.Flags&il.MethodSynthetic != 0 ||
				md.IsTypeInitializer() || len(md.GenericParams) > 0 {
				continue
			}
			ok := true
			for _, p := range md.Params {
				if p.Type.Kind != il.SigNamed || !il.IsPrimitiveName(p.Type.Name) {
					ok = false
				}
			}
			if ok {
				out = append(out, entryPoint{typ: td, method: md})
			}
		}
	}
	return out
}

type entryPoint struct {
	typ    *il.TypeDef
	method *il.MethodDef
}

func (e entryPoint) String() string {
	return e.typ.FullName() + "::" + e.method.Signature()
}

func runMethod(ctx context.Context, cfg *Config, path, target string, raw []string, out, trace io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	typeName, method, ok := strings.Cut(target, "::")
	if !ok {
		return fmt.Errorf("target %q is not Type::Method", target)
	}
	s, err := openSession(cfg, path, trace)
	if err != nil {
		return err
	}

	var found []entryPoint
	for _, e := range s.entryPoints() {
		if e.typ.FullName() == typeName && (e.method.Name == method || e.method.Signature() == method) &&
			len(e.method.Params) == len(raw) {
			found = append(found, e)
		}
	}
	switch len(found) {
	case 0:
		return fmt.Errorf("no static method %s taking %d arguments", target, len(raw))
	case 1:
	default:
		return fmt.Errorf("%s is ambiguous: use a signature such as %s", target, found[0])
	}

	result, err := s.call(ctx, found[0].typ, found[0].method, raw)
	if err != nil {
		return fmt.Errorf("call %s: %w", found[0], err)
	}
	fmt.Fprintf(out, "Result: %v\n", result)
	return nil
}

func convertArg(value string, t *il.TypeSig) (any, error) {
	switch t.Name {
	case il.TypeString:
		return value, nil
	case il.TypeInt:
		v, err := strconv.ParseInt(value, 10, 32)
		return int32(v), err
	case il.TypeLong:
		return strconv.ParseInt(value, 10, 64)
	case il.TypeFloat:
		v, err := strconv.ParseFloat(value, 32)
		return float32(v), err
	case il.TypeDouble:
		return strconv.ParseFloat(value, 64)
	case il.TypeBool:
		return strconv.ParseBool(value)
	case il.TypeObject:
		return value, nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %s", t)
	}
}
