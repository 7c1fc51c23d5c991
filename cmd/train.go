package cmd

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skyops/txctl/internal/launchcfg"
	"github.com/skyops/txctl/internal/readiness"
	"github.com/skyops/txctl/internal/supervisor"
)

var trainCmd = &cobra.Command{
	Use:   "train -- <trainer command...>",
	Short: "Run an RL training command against a ready tx server",
	Long: `Run an RL training entrypoint against a tx server that is already up.

The command first confirms the server accepts TCP connections and answers
its HTTP health check, then starts the trainer under txctl's supervision
with the server endpoint exported as TX_SERVER_URL.

Examples:
  txctl train -- uv run python examples/grpo/train.py
  txctl train --server-port 8080 -- python -m my_rl.train --epochs 3`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrain(args)
	},
}

func init() {
	trainCmd.Flags().Int("server-port", launchcfg.DefaultPort, "Port of the tx server to train against")
	trainCmd.Flags().Int("server-wait", 30, "Seconds to wait for the server before giving up")

	_ = viper.BindPFlag("server-port", trainCmd.Flags().Lookup("server-port"))
	_ = viper.BindPFlag("server-wait", trainCmd.Flags().Lookup("server-wait"))
}

func runTrain(trainerCmd []string) error {
	logger := newLogger()
	port := viper.GetInt("server-port")
	wait := time.Duration(viper.GetInt("server-wait")) * time.Second

	// The trainer is useless without a reachable server, so gate first.
	gate := readiness.NewGate(logger)
	fmt.Printf("⏳ Checking tx server on port %d...\n", port)
	if gate.Await(DefaultServeHost, port, wait) != readiness.Ready {
		return fmt.Errorf("no tx server reachable on port %d after %s; launch one with 'txctl launch'", port, wait)
	}

	serverURL := fmt.Sprintf("http://%s:%d", DefaultServeHost, port)
	if err := checkServerHealth(serverURL); err != nil {
		return fmt.Errorf("tx server on port %d is reachable but unhealthy: %w", port, err)
	}
	fmt.Println("✅ tx server is healthy")

	handle, err := supervisor.New(getBasePath(), "train", trainerCmd, logger,
		supervisor.WithEnv([]string{fmt.Sprintf("TX_SERVER_URL=%s", serverURL)}))
	if err != nil {
		return err
	}

	fmt.Println("🚀 Starting trainer...")
	if err := handle.Start(); err != nil {
		return err
	}

	manifest := supervisor.NewManifest(getBasePath())
	if err := manifest.Add(supervisor.Run{
		ID:        handle.RunID(),
		Name:      "train",
		Port:      port,
		PID:       handle.PID(),
		LogPath:   handle.LogPath(),
		Command:   trainerCmd,
		StartedAt: time.Now(),
	}); err != nil {
		fmt.Printf("⚠️  Failed to record run in manifest: %v\n", err)
	}

	fmt.Println("\n✅ Trainer started!")
	fmt.Printf("  Logs: %s\n", handle.LogPath())
	fmt.Println("  Watch progress with 'txctl monitor' or 'txctl host status'")
	return nil
}

// checkServerHealth performs the operator-level HTTP health check with a few
// retries, since the server may accept connections slightly before its HTTP
// layer is wired up.
func checkServerHealth(serverURL string) error {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = time.Second
	client.RetryWaitMax = 3 * time.Second
	client.Logger = nil

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("health endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
