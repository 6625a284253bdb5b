package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/weaver/registry"
	"github.com/wippyai/weaver/vm"
	"github.com/wippyai/weaver/weave"
)

var configFile string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "weave",
		Short: "Annotation-driven static weaving for managed modules",
		Long: `weave rewrites YAML modules so that members carrying capability
annotations route through their annotation instances at run time.

Settings are read from flags, WEAVER_* environment variables and
weaver.yaml in the working directory, in that order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ./weaver.yaml)")
	root.PersistentFlags().StringSlice("ref", nil, "Referenced module files")
	root.PersistentFlags().StringSlice("types", nil, "Type patterns to weave (Ns.*, Ns.Type, *)")
	root.PersistentFlags().StringSlice("only", nil, "Only weave types matching these wildcard patterns")
	root.PersistentFlags().StringSlice("remove", nil, "Never weave types matching these wildcard patterns")
	root.PersistentFlags().StringSlice("remove-members", nil, "Skip members by name, or by prefix ending in *")
	root.PersistentFlags().BoolP("verbose", "v", false, "Log diagnostics to stderr")

	root.AddCommand(newWeaveCommand())
	root.AddCommand(newInspectCommand())
	root.AddCommand(newRunCommand())
	return root
}

// setup loads the configuration and installs loggers.
func setup(cmd *cobra.Command) (*Config, error) {
	cfg, err := loadConfig(cmd, configFile)
	if err != nil {
		return nil, err
	}
	if cfg.Verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		weave.SetLogger(l)
		vm.SetLogger(l.Named("vm"))
		registry.SetLogger(l.Named("registry"))
	}
	return cfg, nil
}
