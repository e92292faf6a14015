package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/icetop/internal/daemon"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the IceTop gateway",
	Long: `Run the IceTop gateway in the foreground. Clients speak JSON-RPC 2.0 over
WebSocket at /ws or HTTP POST at /rpc; Prometheus metrics are served at /metrics.
Edits to the settings file clear all chat sessions.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen address (default from settings)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from settings)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	pidFile := pidFilePath()
	if daemon.IsRunning(pidFile) {
		return fmt.Errorf("gateway is already running (PID file: %s)", pidFile)
	}

	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Gateway.Host = serveHost
	}
	if servePort != 0 {
		cfg.Gateway.Port = servePort
	}

	log, err := newLogger(cfg, true)
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := newDaemon(cfg, log)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		d.Close()
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "IceTop gateway listening on %s\n", d.GetGatewayServer().Addr())
	d.Wait()
	return nil
}
