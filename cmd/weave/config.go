package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wippyai/weaver/il"
	"github.com/wippyai/weaver/weave"
)

// Config is the merged CLI configuration: flags over WEAVER_* environment
// variables over weaver.yaml over defaults.
type Config struct {
	References    []string `mapstructure:"references"`
	Types         []string `mapstructure:"types"`
	Only          []string `mapstructure:"only"`
	Remove        []string `mapstructure:"remove"`
	RemoveMembers []string `mapstructure:"remove_members"`
	OutDir        string   `mapstructure:"out"`
	Suffix        string   `mapstructure:"suffix"`
	Jobs          int      `mapstructure:"jobs"`
	Verbose       bool     `mapstructure:"verbose"`
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"ref":            "references",
	"types":          "types",
	"only":           "only",
	"remove":         "remove",
	"remove-members": "remove_members",
	"out":            "out",
	"suffix":         "suffix",
	"jobs":           "jobs",
	"verbose":        "verbose",
}

func loadConfig(cmd *cobra.Command, file string) (*Config, error) {
	v := viper.New()

	v.SetDefault("suffix", ".woven")
	v.SetDefault("jobs", 4)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("weaver")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("WEAVER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || file != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Jobs < 1 {
		cfg.Jobs = 1
	}
	return &cfg, nil
}

// weaveConfig builds the library configuration. References are loaded
// from disk on every call.
func (c *Config) weaveConfig() (weave.Config, error) {
	refs := make([]*il.Module, 0, len(c.References))
	for _, path := range c.References {
		m, err := il.LoadFile(path)
		if err != nil {
			return weave.Config{}, fmt.Errorf("load reference %s: %w", path, err)
		}
		refs = append(refs, m)
	}

	cfg := weave.Config{
		References: refs,
		Types:      c.Types,
	}
	if len(c.Only) > 0 {
		cfg.OnlyList = weave.NewCompositeMatcher(
			weave.NewWildcardMatcher(c.Only),
			weave.NewGenericMatcher(c.Only),
		)
	}
	if len(c.Remove) > 0 {
		cfg.RemoveList = weave.NewCompositeMatcher(
			weave.NewWildcardMatcher(c.Remove),
			weave.NewGenericMatcher(c.Remove),
		)
	}
	if len(c.RemoveMembers) > 0 {
		var names, prefixes []string
		for _, n := range c.RemoveMembers {
			if p, ok := strings.CutSuffix(n, "*"); ok {
				prefixes = append(prefixes, p)
				continue
			}
			names = append(names, n)
		}
		cfg.RemoveMembers = weave.NewCompositeMemberMatcher(
			weave.NewMemberNameMatcher(names),
			weave.NewMemberPrefixMatcher(prefixes),
		)
	}
	return cfg, nil
}
