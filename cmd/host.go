package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skyops/txctl/internal/hardware"
	"github.com/skyops/txctl/internal/launchcfg"
	"github.com/skyops/txctl/internal/readiness"
	"github.com/skyops/txctl/internal/supervisor"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Host environment management commands",
	Long:  `Manage and monitor the host environment for tx serving.`,
}

var hostSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Set up the tx serving environment",
	Long: `Set up the host for tx serving: verify required tooling, create the uv
virtual environment, clone or refresh the upstream server repository and
install its dependencies.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHostSetup(cmd)
	},
}

var hostStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tx environment status",
	Long:  `Check the status of the host environment, including tooling, GPUs and supervised runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		return runHostStatus(verbose)
	},
}

var hostClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the tx serving environment",
	Long:  `Remove the uv virtual environment, repository checkout and run state created by 'txctl host setup'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		return runHostClear(yes)
	},
}

var hostPreFlightCmd = &cobra.Command{
	Use:          "pre-flight",
	Short:        "Verify system readiness for tx serving",
	Long:         `Perform pre-flight checks to ensure the host is ready to launch a tx server: required tools, GPU tooling, environment directory and port availability.`,
	SilenceUsage: true, // Don't show help when validation fails
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHostPreFlight()
	},
}

func init() {
	hostCmd.AddCommand(hostSetupCmd)
	hostCmd.AddCommand(hostStatusCmd)
	hostCmd.AddCommand(hostClearCmd)
	hostCmd.AddCommand(hostPreFlightCmd)

	hostSetupCmd.Flags().String("repo", repoURL, "Alternative upstream server repository URL")
	hostSetupCmd.Flags().String("ref", defaultRef, "Branch or tag to follow for the server repository")

	hostStatusCmd.Flags().BoolP("verbose", "v", false, "Enable verbose output")

	hostClearCmd.Flags().BoolP("yes", "y", false, "Skip confirmation prompt and proceed with deletion")
}

// SetupState tracks the configuration used during setup
type SetupState struct {
	Repo        string    `json:"repo"`
	Ref         string    `json:"ref"`
	InstalledAt time.Time `json:"installed_at"`
}

func getBasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "txctl")
}

func getUvEnvPath() string {
	return filepath.Join(getBasePath(), ".venv")
}

func getRepoPath() string {
	return filepath.Join(getBasePath(), repoName)
}

func getServerPkgPath() string {
	return filepath.Join(getRepoPath(), serverPkg)
}

func getStateFilePath() string {
	return filepath.Join(getBasePath(), stateFileName)
}

func baseEnvExists() bool {
	_, err := os.Stat(getBasePath())
	return err == nil
}

// saveSetupState saves the setup configuration to a JSON file
func saveSetupState(state *SetupState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal setup state: %w", err)
	}

	if err := os.WriteFile(getStateFilePath(), data, 0644); err != nil {
		return fmt.Errorf("failed to write setup state file: %w", err)
	}

	return nil
}

// loadSetupState loads the setup configuration from the JSON file
func loadSetupState() (*SetupState, error) {
	data, err := os.ReadFile(getStateFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No state file exists
		}
		return nil, fmt.Errorf("failed to read setup state file: %w", err)
	}

	var state SetupState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal setup state: %w", err)
	}

	return &state, nil
}

// commandExists checks if a command is available in the system PATH
func commandExists(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

// runHostSystemChecks performs shared system checks for setup and pre-flight
func runHostSystemChecks() error {
	fmt.Println("--- System Checks ---")

	if !commandExists("uv") {
		return fmt.Errorf("uv command not found. Please install uv: https://docs.astral.sh/uv/getting-started/installation/")
	}
	fmt.Println("✅ uv command found")

	if !commandExists("git") {
		return fmt.Errorf("git command not found. Please install Git")
	}
	fmt.Println("✅ git command found")

	fmt.Println("✅ System checks completed")
	return nil
}

func runHostSetup(cmd *cobra.Command) error {
	repo, _ := cmd.Flags().GetString("repo")
	ref, _ := cmd.Flags().GetString("ref")

	if err := runHostSystemChecks(); err != nil {
		return err
	}

	basePath := getBasePath()
	if basePath == "" {
		return fmt.Errorf("could not determine home directory")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return fmt.Errorf("failed to create environment directory '%s': %w", basePath, err)
	}
	fmt.Printf("✅ Environment directory ready at %s\n", basePath)

	if err := ensureRepoCheckout(repo, ref); err != nil {
		return err
	}

	fmt.Println("--- Installing server dependencies ---")
	if err := runStreaming(getServerPkgPath(), "uv", "sync"); err != nil {
		return fmt.Errorf("failed to install server dependencies: %w", err)
	}
	fmt.Println("✅ Server dependencies installed")

	if err := saveSetupState(&SetupState{Repo: repo, Ref: ref, InstalledAt: time.Now()}); err != nil {
		return err
	}

	fmt.Println("\n✅ Host setup complete! Run 'txctl launch <model>' to start a server.")
	return nil
}

// ensureRepoCheckout clones the server repository, or refreshes an existing
// checkout. A failed refresh degrades to the stale checkout with a warning;
// a failed initial clone is fatal.
func ensureRepoCheckout(repo, ref string) error {
	repoPath := getRepoPath()

	if _, err := os.Stat(filepath.Join(repoPath, ".git")); err == nil {
		fmt.Printf("--- Updating existing checkout at %s ---\n", repoPath)
		if err := runStreaming(repoPath, "git", "fetch", "origin"); err != nil {
			fmt.Printf("⚠️  Failed to refresh server repository (%v); continuing with existing checkout\n", err)
			return nil
		}
		if err := runStreaming(repoPath, "git", "checkout", ref); err != nil {
			fmt.Printf("⚠️  Failed to check out '%s' (%v); continuing with existing checkout\n", ref, err)
			return nil
		}
		if err := runStreaming(repoPath, "git", "pull", "--ff-only", "origin", ref); err != nil {
			fmt.Printf("⚠️  Failed to fast-forward '%s' (%v); continuing with existing checkout\n", ref, err)
		}
		return nil
	}

	fmt.Printf("--- Cloning %s (%s) ---\n", repo, ref)
	if err := runStreaming(getBasePath(), "git", "clone", "--branch", ref, repo, repoPath); err != nil {
		return fmt.Errorf("failed to clone server repository and no prior checkout exists: %w", err)
	}
	return nil
}

// runStreaming executes a command in dir with output streamed to the terminal.
func runStreaming(dir, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func runHostStatus(verbose bool) error {
	logger := newLogger()

	fmt.Println("--- Host Status ---")

	for _, tool := range []string{"uv", "git", "nvidia-smi"} {
		if commandExists(tool) {
			fmt.Printf("✅ %s command found\n", tool)
		} else {
			fmt.Printf("❌ %s command not found\n", tool)
		}
	}

	if baseEnvExists() {
		fmt.Printf("✅ Environment directory: %s\n", getBasePath())
	} else {
		fmt.Printf("❌ Environment directory not found (run 'txctl host setup')\n")
	}

	if state, err := loadSetupState(); err != nil {
		fmt.Printf("⚠️  Could not read setup state: %v\n", err)
	} else if state != nil {
		fmt.Printf("✅ Setup state: %s @ %s (installed %s)\n", state.Repo, state.Ref, state.InstalledAt.Format("2006-01-02"))
	} else {
		fmt.Println("❌ No setup state recorded")
	}

	// GPU summary
	if querier, err := hardware.DetectQuerier(); err != nil {
		fmt.Printf("⚠️  GPU detection unavailable: %v\n", err)
	} else if inventory, err := hardware.Probe(querier, logger); err != nil {
		fmt.Printf("⚠️  GPU probe failed: %v\n", err)
	} else {
		capacity := inventory.Capacity()
		fmt.Printf("🎮 GPUs: %d", capacity.DeviceCount)
		if len(capacity.DistinctNames) > 0 {
			fmt.Printf(" (%s)", strings.Join(capacity.DistinctNames, ", "))
		}
		if capacity.MinMemoryMiB > 0 {
			fmt.Printf(", min memory %d MiB", capacity.MinMemoryMiB)
		}
		fmt.Println()
		if verbose {
			for _, d := range inventory.Devices {
				fmt.Printf("  GPU %d: %s (%d MiB)\n", d.Index, d.Name, d.MemoryMiB)
			}
		}
	}

	// Supervised runs
	manifest := supervisor.NewManifest(getBasePath())
	runs, err := manifest.List()
	if err != nil {
		fmt.Printf("⚠️  Could not read run manifest: %v\n", err)
		return nil
	}
	if len(runs) == 0 {
		fmt.Println("No supervised runs recorded")
		return nil
	}
	fmt.Printf("Supervised runs (%d):\n", len(runs))
	for _, run := range runs {
		status := "exited"
		if run.Alive() {
			status = "running"
		}
		fmt.Printf("  %s %s pid=%d port=%d model=%s [%s]\n", run.Name, run.ID[:8], run.PID, run.Port, run.Model, status)
		if verbose {
			fmt.Printf("    log: %s\n", run.LogPath)
		}
	}

	return nil
}

func runHostClear(yes bool) error {
	basePath := getBasePath()
	if !baseEnvExists() {
		fmt.Println("Nothing to clear: environment directory does not exist")
		return nil
	}

	if !yes {
		fmt.Printf("This will remove %s and everything in it. Continue? [y/N] ", basePath)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted")
			return nil
		}
	}

	if err := os.RemoveAll(basePath); err != nil {
		return fmt.Errorf("failed to remove environment directory: %w", err)
	}
	fmt.Printf("✅ Removed %s\n", basePath)
	return nil
}

func runHostPreFlight() error {
	fmt.Println("--- Pre-flight Checks ---")

	if err := runHostSystemChecks(); err != nil {
		return err
	}

	if _, err := exec.LookPath("nvidia-smi"); err != nil {
		return fmt.Errorf("nvidia-smi command not found in PATH. Please install NVIDIA drivers and ensure nvidia-smi is available in your system PATH")
	}
	fmt.Println("✅ nvidia-smi command found")

	if !baseEnvExists() {
		return fmt.Errorf("environment directory not found at '%s'. Please run 'txctl host setup' first", getBasePath())
	}
	fmt.Println("✅ Environment directory found")

	if _, err := os.Stat(getUvEnvPath()); os.IsNotExist(err) {
		fmt.Println("⚠️  No uv virtual environment found; 'uv sync' will create one on launch")
	}

	gate := readiness.NewGate(newLogger())
	port := viper.GetInt("port")
	if port == 0 {
		port = launchcfg.DefaultPort
	}
	if gate.PortBusy(DefaultServeHost, port) {
		return fmt.Errorf("port %d is already in use", port)
	}
	fmt.Printf("✅ Port %d is free\n", port)

	fmt.Println("\n✅ Pre-flight checks passed")
	return nil
}
