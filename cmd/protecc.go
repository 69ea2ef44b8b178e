package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/chef-project/containerv/pattern"
	"github.com/chef-project/containerv/profile"
)

var protoCmd = &cobra.Command{
	Use:   "protecc",
	Short: "Compile path-glob rule files into binary policy profiles",
	Long:  `Commands for protecc: compiling a YAML rule set into the "PROT" binary format bpf-manager and the container runtime load.`,
}

// ruleFile is the on-disk YAML shape compile reads: a flat list of
// (glob, permission) pairs, the same rule model pattern.Rule compiles.
type ruleFile struct {
	CaseInsensitive bool `yaml:"case_insensitive"`
	DenyPrecedence  bool `yaml:"deny_precedence"`
	Rules           []struct {
		Glob  string `yaml:"glob"`
		Read  bool   `yaml:"read"`
		Write bool   `yaml:"write"`
		Exec  bool   `yaml:"exec"`
	} `yaml:"rules"`
}

var (
	protoInput  string
	protoOutput string
)

var protoCompileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile a YAML rule file into a binary path profile",
	Args:  cobra.NoArgs,
	RunE:  runProtoCompile,
}

func init() {
	rootCmd.AddCommand(protoCmd)
	protoCmd.AddCommand(protoCompileCmd)

	protoCompileCmd.Flags().StringVarP(&protoInput, "in", "i", "", "path to the YAML rule file")
	protoCompileCmd.Flags().StringVarP(&protoOutput, "out", "o", "", "path to write the compiled PROT profile")
	protoCompileCmd.MarkFlagRequired("in")
	protoCompileCmd.MarkFlagRequired("out")
}

func runProtoCompile(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(protoInput)
	if err != nil {
		return fmt.Errorf("read rule file: %w", err)
	}

	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("parse rule file: %w", err)
	}

	rules := make([]pattern.Rule, 0, len(rf.Rules))
	for _, r := range rf.Rules {
		var perms pattern.Perms
		if r.Read {
			perms |= pattern.PermRead
		}
		if r.Write {
			perms |= pattern.PermWrite
		}
		if r.Exec {
			perms |= pattern.PermExec
		}
		rules = append(rules, pattern.Rule{Glob: r.Glob, Perms: perms})
	}

	cfg := pattern.DefaultConfig()
	cfg.CaseInsensitive = rf.CaseInsensitive

	compiled, err := pattern.Compile(rules, cfg)
	if err != nil {
		return fmt.Errorf("compile rules: %w", err)
	}

	encoded, err := profile.EncodePath(compiled, profile.PathHeader{
		DenyPrecedence:  rf.DenyPrecedence,
		CaseInsensitive: rf.CaseInsensitive,
	})
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	if err := os.WriteFile(protoOutput, encoded, 0644); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}

	fmt.Printf("compiled %d rule(s) into %s (%d bytes)\n", len(rules), protoOutput, len(encoded))
	return nil
}
