package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skyops/txctl/internal/hardware"
)

var hwCmd = &cobra.Command{
	Use:   "hw",
	Short: "Hardware information commands",
	Long:  `Display hardware information relevant to tx server deployments.`,
}

var hwShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show hardware information",
	Long: `Display detailed information about available hardware including GPUs and
RDMA devices.

Examples:
  txctl hw show`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("🖥️  Hardware Information")
		fmt.Println("========================")

		if err := displayGpuInfo(); err != nil {
			fmt.Printf("Warning: Failed to detect NVIDIA GPUs: %v\n", err)
			fmt.Println("This may be expected if NVIDIA drivers are not installed or no GPUs are present.")
		}

		fmt.Println() // Add spacing between sections

		if err := displayRDMAInfo(); err != nil {
			fmt.Printf("Warning: Failed to detect RDMA devices: %v\n", err)
			fmt.Println("This may be expected if RDMA devices are not present or drivers are not installed.")
		}

		return nil
	},
}

var hwNetCmd = &cobra.Command{
	Use:   "net",
	Short: "Show InfiniBand network information",
	Long: `Display InfiniBand network interfaces with their IP addresses and status.

Examples:
  txctl hw net`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("🌐 InfiniBand Network Information")
		fmt.Println("=================================")

		interfaces, err := hardware.IBNetworkInterfaces()
		if err != nil {
			return fmt.Errorf("failed to get InfiniBand network interfaces: %w", err)
		}

		if len(interfaces) == 0 {
			fmt.Println("No InfiniBand network interfaces found")
			return nil
		}

		fmt.Printf("Found %d InfiniBand network interface(s):\n\n", len(interfaces))

		for _, iface := range interfaces {
			statusIcon := "🔴" // down
			if iface.Status == "up" {
				statusIcon = "🟢" // up
			}

			fmt.Printf("%s %s (%s) - %s\n", statusIcon, iface.Name, iface.Status, iface.IPAddress)
		}

		return nil
	},
}

func init() {
	hwCmd.AddCommand(hwShowCmd)
	hwCmd.AddCommand(hwNetCmd)
}

// displayGpuInfo shows GPU detection and details
func displayGpuInfo() error {
	logger := newLogger()

	querier, err := hardware.DetectQuerier()
	if err != nil {
		return err
	}

	inventory, err := hardware.Probe(querier, logger)
	if err != nil {
		return err
	}

	fmt.Printf("Detected %d NVIDIA GPU(s)\n", inventory.Count)

	if len(inventory.Devices) > 0 {
		fmt.Println("GPU Details:")
		for _, d := range inventory.Devices {
			if d.MemoryMiB > 0 {
				fmt.Printf("  GPU %d: %s (%d MiB)\n", d.Index, d.Name, d.MemoryMiB)
			} else {
				fmt.Printf("  GPU %d: %s (memory unknown)\n", d.Index, d.Name)
			}
		}
	}

	capacity := inventory.Capacity()
	if capacity.MinMemoryMiB > 0 {
		fmt.Printf("Min GPU memory (launch planning figure): %d MiB\n", capacity.MinMemoryMiB)
	}

	return nil
}

// displayRDMAInfo shows RDMA device detection and details
func displayRDMAInfo() error {
	info, err := hardware.RDMADeviceInfo()
	if err != nil {
		return err
	}

	fmt.Println("RDMA Device Details:")
	for _, line := range info {
		fmt.Printf("  %s\n", line)
	}

	return nil
}
