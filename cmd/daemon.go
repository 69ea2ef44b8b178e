package cmd

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/chef-project/containerv/bpfmgr"
	"github.com/chef-project/containerv/daemon"
	"github.com/chef-project/containerv/ipc"
	"github.com/chef-project/containerv/layer"
	"github.com/chef-project/containerv/logging"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run cvd, the Container daemon protocol server",
}

var (
	daemonSocket string
	daemonBPFObj string
)

var daemonServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept Container daemon protocol connections and serve them",
	Args:  cobra.NoArgs,
	RunE:  runDaemonServe,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonServeCmd)

	daemonServeCmd.Flags().StringVar(&daemonSocket, "socket", "@cvd", "unix socket address to listen on (leading @ selects the abstract namespace)")
	daemonServeCmd.Flags().StringVar(&daemonBPFObj, "bpf-object", "", "path to the compiled LSM object; enforcement is skipped entirely if unset")
}

func runDaemonServe(cmd *cobra.Command, args []string) error {
	var bpf *bpfmgr.Manager
	if daemonBPFObj != "" {
		m, available, err := bpfmgr.Initialize(bpfmgr.FileLoader{Path: daemonBPFObj})
		if err != nil {
			return fmt.Errorf("initialize bpf-manager: %w", err)
		}
		bpf = m
		logging.Info("daemon: bpf-manager initialized", "available", available)
	}

	d := daemon.New(GetStateRoot(), layer.NewArena(), bpf)

	ln, err := ipc.Listen("unix", daemonSocket)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", daemonSocket, err)
	}
	defer ln.Close()

	logging.Info("daemon: listening", "socket", daemonSocket)
	for {
		nc, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		go serveConn(d, nc)
	}
}

func serveConn(d *daemon.Daemon, nc net.Conn) {
	conn := ipc.NewConn(nc)
	defer conn.Close()
	if err := ipc.ServeConn(conn, d); err != nil {
		logging.Warn("daemon: connection closed", "error", err)
	}
}
