package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wippyai/weaver/il"
	"github.com/wippyai/weaver/weave"
)

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <module.yaml>",
		Short: "List the extension points of a module without weaving it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			wcfg, err := cfg.weaveConfig()
			if err != nil {
				return err
			}
			wcfg.DryRun = true

			mod, err := il.LoadFile(args[0])
			if err != nil {
				return fmt.Errorf("load %s: %w", args[0], err)
			}
			if weave.IsWoven(mod) {
				fmt.Printf("Module %s is already woven.\n", mod.Name)
				return nil
			}
			rep, err := weave.Transform(mod, wcfg)
			if err != nil {
				return err
			}

			fmt.Printf("Module: %s\n", rep.Module)
			fmt.Printf("Extension points: %d\n\n", len(rep.Tasks))
			for _, t := range rep.Tasks {
				fmt.Printf("  %-14s %s\n  %-14s <- %s\n", t.Kind, t.Member, "", t.Annotation)
			}
			for _, w := range rep.Warnings {
				fmt.Printf("\nwarning: %s", w)
			}
			if len(rep.Warnings) > 0 {
				fmt.Println()
			}
			return nil
		},
	}
}
