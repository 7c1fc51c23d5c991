package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skyops/txctl/internal/readiness"
	"github.com/skyops/txctl/internal/supervisor"
	"github.com/skyops/txctl/internal/web"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Serve a web dashboard over supervised runs",
	Long: `Start a local web server with a dashboard and JSON API over the runs
started by 'txctl launch' and 'txctl train': process state, endpoint
reachability and log tails.

Examples:
  txctl monitor
  txctl monitor --monitor-port 9090`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMonitor()
	},
}

func init() {
	monitorCmd.Flags().Int("monitor-port", DefaultMonitorPort, "Port for the monitor web server")
	_ = viper.BindPFlag("monitor-port", monitorCmd.Flags().Lookup("monitor-port"))
}

func runMonitor() error {
	logger := newLogger()
	port := viper.GetInt("monitor-port")

	manifest := supervisor.NewManifest(getBasePath())
	// Drop dead runs up front so the dashboard starts clean.
	if _, err := manifest.Prune(); err != nil {
		logger.Warn().Err(err).Msg("failed to prune run manifest")
	}

	server := web.New(port, manifest, readiness.NewGate(logger), logger)
	if err := server.Start(); err != nil {
		return err
	}
	fmt.Printf("📊 Monitor dashboard: http://127.0.0.1:%d/\n", port)
	fmt.Println("Press Ctrl+C to stop")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Println("\nShutting down monitor...")
	server.Stop()
	return nil
}
