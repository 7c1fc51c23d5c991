package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skyops/txctl/internal/hardware"
	"github.com/skyops/txctl/internal/launchcfg"
	"github.com/skyops/txctl/internal/readiness"
	"github.com/skyops/txctl/internal/supervisor"
)

var launchCmd = &cobra.Command{
	Use:   "launch [model_identifier]",
	Short: "Launch a tx server for the specified model",
	Long: `Launch a tx training/inference server with a configuration resolved from
the detected hardware. Every field can be overridden via flags or the
MODEL/PORT/TP_SIZE/TRAIN_MICRO_BS/MAX_LORA_ADAPTERS/MAX_LORA_RANK
environment variables; unset fields take heuristic defaults.

The server runs detached with its output redirected to a log file under
the txctl state directory. The command waits until the server's port
accepts TCP connections before returning.

Examples:
  txctl launch meta-llama/Llama-3.1-8B-Instruct
  txctl launch --port 8080 Qwen/Qwen2.5-7B-Instruct
  txctl launch --tp-size 2 --train-micro-bs 8 my-model
  txctl launch --dry-run my-model
  TP_SIZE=4 PORT=8200 txctl launch my-model`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true, // Don't show help when the launch fails
	RunE: func(cmd *cobra.Command, args []string) error {
		model := viper.GetString("model")
		if len(args) == 1 {
			model = args[0]
		}
		return runLaunch(model)
	},
}

func init() {
	// Override flags are strings so "auto" and malformed values all flow
	// through the resolver's validation instead of cobra's flag parsing.
	launchCmd.Flags().String("port", "", fmt.Sprintf("Port for the tx server API (default %d)", launchcfg.DefaultPort))
	launchCmd.Flags().String("tp-size", "auto", "Tensor parallel size (auto = one shard per detected GPU)")
	launchCmd.Flags().String("train-micro-bs", "auto", "Train micro-batch size (auto = derived from GPU memory)")
	launchCmd.Flags().String("max-lora-adapters", "", fmt.Sprintf("Maximum number of concurrently loaded LoRA adapters (default %d)", launchcfg.DefaultMaxLoraAdapters))
	launchCmd.Flags().String("max-lora-rank", "", fmt.Sprintf("Maximum LoRA adapter rank (default %d)", launchcfg.DefaultMaxLoraRank))
	launchCmd.Flags().Int("ready-timeout", DefaultReadyTimeoutSecs, "Seconds to wait for the server port to accept connections")
	launchCmd.Flags().Bool("dry-run", false, "Print the server command that would be executed without running it")

	_ = viper.BindPFlag("port", launchCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("tp-size", launchCmd.Flags().Lookup("tp-size"))
	_ = viper.BindPFlag("train-micro-bs", launchCmd.Flags().Lookup("train-micro-bs"))
	_ = viper.BindPFlag("max-lora-adapters", launchCmd.Flags().Lookup("max-lora-adapters"))
	_ = viper.BindPFlag("max-lora-rank", launchCmd.Flags().Lookup("max-lora-rank"))
	_ = viper.BindPFlag("ready-timeout", launchCmd.Flags().Lookup("ready-timeout"))
	_ = viper.BindPFlag("dry-run", launchCmd.Flags().Lookup("dry-run"))
}

func runLaunch(model string) error {
	logger := newLogger()

	if err := performLaunchPreflightChecks(); err != nil {
		return err
	}

	// Probe the hardware
	querier, err := hardware.DetectQuerier()
	if err != nil {
		return fmt.Errorf("hardware detection unavailable: %w", err)
	}
	inventory, err := hardware.Probe(querier, logger)
	if err != nil {
		return fmt.Errorf("hardware probe failed: %w", err)
	}
	capacity := inventory.Capacity()

	fmt.Println("\nDetected Hardware:")
	fmt.Printf("  GPU Count: %d\n", capacity.DeviceCount)
	if len(capacity.DistinctNames) > 0 {
		fmt.Printf("  GPU Models: %s\n", strings.Join(capacity.DistinctNames, ", "))
	}
	if capacity.MinMemoryMiB > 0 {
		fmt.Printf("  Min GPU Memory: %d MiB\n", capacity.MinMemoryMiB)
	} else {
		fmt.Println("  Min GPU Memory: unknown")
	}

	// Resolve the launch configuration
	partial := launchcfg.PartialConfig{
		Model:           model,
		Port:            viper.GetString("port"),
		TPSize:          viper.GetString("tp-size"),
		TrainMicroBS:    viper.GetString("train-micro-bs"),
		MaxLoraAdapters: viper.GetString("max-lora-adapters"),
		MaxLoraRank:     viper.GetString("max-lora-rank"),
	}
	cfg, err := launchcfg.Resolve(inventory, partial, logger)
	if err != nil {
		return err
	}

	// Display configuration
	fmt.Println("\nLaunch Configuration:")
	fmt.Printf("  Model: %s\n", cfg.Model)
	fmt.Printf("  Port: %d\n", cfg.Port)
	fmt.Printf("  Tensor Parallel Size: %d\n", cfg.TensorParallel)
	fmt.Printf("  Train Micro-Batch Size: %d\n", cfg.TrainMicroBatch)
	fmt.Printf("  Max LoRA Adapters: %d\n", cfg.MaxLoraAdapters)
	fmt.Printf("  Max LoRA Rank: %d\n", cfg.MaxLoraRank)

	serverCmd := buildServeCommand(cfg)

	if viper.GetBool("dry-run") {
		fmt.Println("\n🔍 Dry Run Mode - Server Command Preview:")
		fmt.Println("=====================================")
		fmt.Printf("%s\n", strings.Join(serverCmd, " \\\n  "))
		fmt.Println("\n💡 To execute this command, run without --dry-run flag")
		return nil
	}

	// Refuse to stack a second server on a busy port
	gate := readiness.NewGate(logger)
	if gate.PortBusy(DefaultServeHost, cfg.Port) {
		return fmt.Errorf("port %d is already in use; stop the existing service or pick another port", cfg.Port)
	}

	// Start the server detached
	handle, err := supervisor.New(getBasePath(), "serve", serverCmd, logger)
	if err != nil {
		return err
	}

	fmt.Println("\n🚀 Starting tx server...")
	if err := handle.Start(); err != nil {
		return err
	}

	manifest := supervisor.NewManifest(getBasePath())
	if err := manifest.Add(supervisor.Run{
		ID:        handle.RunID(),
		Name:      "serve",
		Model:     cfg.Model,
		Port:      cfg.Port,
		PID:       handle.PID(),
		LogPath:   handle.LogPath(),
		Command:   serverCmd,
		StartedAt: time.Now(),
	}); err != nil {
		fmt.Printf("⚠️  Failed to record run in manifest: %v\n", err)
	}

	// Gate on readiness
	timeout := time.Duration(viper.GetInt("ready-timeout")) * time.Second
	fmt.Printf("⏳ Waiting up to %s for the server to accept connections on port %d...\n", timeout, cfg.Port)

	switch gate.Await(DefaultServeHost, cfg.Port, timeout) {
	case readiness.Ready:
		fmt.Println("\n✅ tx server is up!")
		fmt.Printf("  Health check: http://%s:%d/health\n", DefaultServeHost, cfg.Port)
		fmt.Printf("  Logs: %s\n", handle.LogPath())
		return nil
	default:
		return fmt.Errorf("server did not become ready within %s; check logs at %s", timeout, handle.LogPath())
	}
}

// buildServeCommand assembles the full uv invocation of the tx server.
func buildServeCommand(cfg launchcfg.LaunchConfig) []string {
	cmd := []string{"uv", "run", "--directory", getServerPkgPath(), serverPkg}
	return append(cmd, cfg.Args()...)
}

// performLaunchPreflightChecks validates host requirements before launching.
func performLaunchPreflightChecks() error {
	if !commandExists("uv") {
		return fmt.Errorf("uv command not found in PATH. Please run 'txctl host setup' first")
	}

	if !baseEnvExists() {
		return fmt.Errorf("txctl environment not found at '%s'. Please run 'txctl host setup' first", getBasePath())
	}

	return nil
}
