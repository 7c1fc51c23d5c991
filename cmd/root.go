package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const version = "0.2.3"

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "txctl",
		Short: "tx serving control CLI",
		Long: `txctl is a command line interface for provisioning GPU hosts and running
tx training/inference servers on them. It probes the host's accelerators,
resolves a launch configuration, supervises the server process, and can
chain RL training runs against a ready server.`,
		Version:    version,
		SuggestFor: []string{"status"}, // Suggest "txctl" when user types "txctl status"
	}
)

func Execute() {
	// Configure Cobra to provide better error handling
	rootCmd.SilenceErrors = true           // Prevent duplicate error messages
	rootCmd.SuggestionsMinimumDistance = 1 // More sensitive to typos

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		// Provide specific guidance for common mistakes
		if err.Error() == `unknown command "status" for "txctl"` {
			fmt.Fprintf(os.Stderr, "\nDid you mean:\n  txctl host status\n")
		}
		if err.Error() == `unknown command "setup" for "txctl"` {
			fmt.Fprintf(os.Stderr, "\nDid you mean:\n  txctl host setup\n")
		}

		fmt.Fprintf(os.Stderr, "\nRun 'txctl --help' for usage.\n")
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/txctl.yaml)")
	// Add subcommands
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(hwCmd)
	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(updateCmd)
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".config/txctl" (without extension).
		viper.AddConfigPath(fmt.Sprintf("%s/.config", home))
		viper.SetConfigName("txctl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TXCTL")
	viper.AutomaticEnv()

	// The documented launch override surface also works without the prefix.
	_ = viper.BindEnv("model", "TXCTL_MODEL", "MODEL")
	_ = viper.BindEnv("port", "TXCTL_PORT", "PORT")
	_ = viper.BindEnv("tp-size", "TXCTL_TP_SIZE", "TP_SIZE")
	_ = viper.BindEnv("train-micro-bs", "TXCTL_TRAIN_MICRO_BS", "TRAIN_MICRO_BS")
	_ = viper.BindEnv("max-lora-adapters", "TXCTL_MAX_LORA_ADAPTERS", "MAX_LORA_ADAPTERS")
	_ = viper.BindEnv("max-lora-rank", "TXCTL_MAX_LORA_RANK", "MAX_LORA_RANK")

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the structured logger used by the internal components.
func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}
