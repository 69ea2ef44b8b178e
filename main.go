// cvctl drives three subsystems from one binary: containerv (the container
// runtime itself), protecc (the path-glob policy compiler), and bpf-manager
// (the BPF-LSM enforcement loader). See cmd.Execute for the command tree.
package main

import (
	"fmt"
	"os"

	"github.com/chef-project/containerv/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cvctl:", err)
		os.Exit(1)
	}
}
