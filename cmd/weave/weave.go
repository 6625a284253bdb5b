package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/weaver/il"
	"github.com/wippyai/weaver/weave"
)

func newWeaveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weave <module.yaml>...",
		Short: "Weave modules and write the results",
		Long: `Weave each module and write it next to the input with the configured
suffix, or into --out. Independent modules are woven concurrently.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			return weaveFiles(cmd.Context(), cfg, args)
		},
	}
	cmd.Flags().StringP("out", "o", "", "Output directory")
	cmd.Flags().String("suffix", ".woven", "Suffix added to output file names")
	cmd.Flags().IntP("jobs", "j", 4, "Modules woven in parallel")
	return cmd
}

type weaveOutcome struct {
	path   string
	out    string
	report *weave.Report
}

func weaveFiles(ctx context.Context, cfg *Config, paths []string) error {
	outcomes := make([]weaveOutcome, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Jobs)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			// Each pass gets its own references; modules are mutated by linking.
			wcfg, err := cfg.weaveConfig()
			if err != nil {
				return err
			}
			mod, err := il.LoadFile(path)
			if err != nil {
				return fmt.Errorf("load %s: %w", path, err)
			}
			rep, err := weave.Transform(mod, wcfg)
			if err != nil {
				return fmt.Errorf("weave %s: %w", path, err)
			}
			data, err := il.Encode(mod)
			if err != nil {
				return fmt.Errorf("encode %s: %w", path, err)
			}
			out := outputPath(cfg, path)
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			outcomes[i] = weaveOutcome{path: path, out: out, report: rep}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, o := range outcomes {
		fmt.Printf("%s -> %s\n", o.path, o.out)
		printCounts(o.report)
		for _, w := range o.report.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
	}
	return nil
}

func outputPath(cfg *Config, path string) string {
	ext := filepath.Ext(path)
	name := strings.TrimSuffix(filepath.Base(path), ext) + cfg.Suffix + ext
	if cfg.OutDir != "" {
		return filepath.Join(cfg.OutDir, name)
	}
	return filepath.Join(filepath.Dir(path), name)
}

func printCounts(rep *weave.Report) {
	counts := rep.Counts()
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("  %-14s %d\n", k, counts[k])
	}
	if len(rep.Skipped) > 0 {
		fmt.Printf("  %-14s %d\n", "skipped", len(rep.Skipped))
	}
	fmt.Printf("  %-14s %d\n", "synthesized", len(rep.Synthesized))
}
