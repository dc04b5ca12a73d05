package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/seednet/seednet/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringSliceVar(&serveBootstrap, "bootstrap", nil, "Seed addresses (ip:port) to contact at start")
	serveCmd.Flags().BoolVar(&serveOffline, "offline", false, "Do not publish or bootstrap")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost      string
	servePort      int
	serveBootstrap []string
	serveOffline   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the seednet node",
	Long:  `Start the peer protocol and diagnostic API server and join the network.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	// Override config from flags
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}
	if len(serveBootstrap) > 0 {
		cfg.Network.Bootstrap = serveBootstrap
	}
	if serveOffline {
		cfg.Network.Enabled = false
	}

	d, err := daemon.NewWithConfig(cfg)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Serve(context.Background())
}
