package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chef-project/containerv/bpfmgr"
)

var bpfCmd = &cobra.Command{
	Use:   "bpfmgr",
	Short: "Load and inspect the BPF-LSM policy enforcer",
	Long:  `Commands for bpf-manager: loading the LSM skeleton, pinning its map and link, and reporting enforcement metrics.`,
}

var bpfObjectPath string

var bpfLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load and pin the compiled LSM object",
	Long:  `Load the compiled BPF-LSM skeleton from --object, attach it, and pin the policy map and program link under ` + bpfmgr.PinRoot + `.`,
	Args:  cobra.NoArgs,
	RunE:  runBPFLoad,
}

var bpfSanityCmd = &cobra.Command{
	Use:   "sanity-check",
	Short: "Load the LSM object and verify its map and link attach cleanly",
	Args:  cobra.NoArgs,
	RunE:  runBPFSanity,
}

func init() {
	rootCmd.AddCommand(bpfCmd)
	bpfCmd.AddCommand(bpfLoadCmd)
	bpfCmd.AddCommand(bpfSanityCmd)

	bpfLoadCmd.Flags().StringVar(&bpfObjectPath, "object", "", "path to the compiled LSM object file")
	bpfLoadCmd.MarkFlagRequired("object")
	bpfSanityCmd.Flags().StringVar(&bpfObjectPath, "object", "", "path to the compiled LSM object file")
	bpfSanityCmd.MarkFlagRequired("object")
}

func runBPFLoad(cmd *cobra.Command, args []string) error {
	loader := bpfmgr.FileLoader{Path: bpfObjectPath}

	m, available, err := bpfmgr.Initialize(loader)
	if err != nil {
		return fmt.Errorf("initialize bpf-manager: %w", err)
	}

	result := struct {
		Available bool           `json:"available"`
		PinRoot   string         `json:"pin_root"`
		Metrics   bpfmgr.Metrics `json:"metrics"`
	}{
		Available: available,
		PinRoot:   bpfmgr.PinRoot,
		Metrics:   m.Metrics(),
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func runBPFSanity(cmd *cobra.Command, args []string) error {
	loader := bpfmgr.FileLoader{Path: bpfObjectPath}
	m, _, err := bpfmgr.Initialize(loader)
	if err != nil {
		return fmt.Errorf("initialize bpf-manager: %w", err)
	}
	defer m.Shutdown()

	if err := m.SanityCheckPins(); err != nil {
		return fmt.Errorf("sanity check: %w", err)
	}
	fmt.Println("ok")
	return nil
}
