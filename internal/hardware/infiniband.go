package hardware

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/procfs/sysfs"
)

// IBInterface is an InfiniBand network interface with its address and state.
// Multi-node tensor-parallel serving needs at least one of these up.
type IBInterface struct {
	Name      string
	IPAddress string
	Status    string
}

// RDMADeviceInfo returns a human-readable summary of the RDMA devices on the
// host: board, firmware and per-port state. Used by `txctl hw show` so
// operators can confirm NCCL has a usable fabric before a multi-GPU launch.
func RDMADeviceInfo() ([]string, error) {
	fs, err := sysfs.NewFS("/sys")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sysfs: %v", err)
	}

	ibClass, err := fs.InfiniBandClass()
	if err != nil {
		return nil, fmt.Errorf("failed to read InfiniBand class information: %v", err)
	}

	if len(ibClass) == 0 {
		return []string{"No RDMA devices found"}, nil
	}

	var info []string
	for deviceName, device := range ibClass {
		info = append(info, fmt.Sprintf("RDMA Device: %s", deviceName))
		if device.BoardID != "" {
			info = append(info, fmt.Sprintf("  Board ID: %s", device.BoardID))
		}
		if device.FirmwareVersion != "" {
			info = append(info, fmt.Sprintf("  Firmware Version: %s", device.FirmwareVersion))
		}
		for portNum, port := range device.Ports {
			info = append(info, fmt.Sprintf("  Port %d: State=%s", portNum, port.State))
		}
	}

	if entries, err := os.ReadDir("/dev/infiniband"); err == nil {
		info = append(info, "Available device files:")
		for _, entry := range entries {
			info = append(info, fmt.Sprintf("  %s", filepath.Join("/dev/infiniband", entry.Name())))
		}
	}

	return info, nil
}

// IBNetworkInterfaces lists IPoIB network interfaces with their addresses and
// operational state.
func IBNetworkInterfaces() ([]IBInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list network interfaces: %w", err)
	}

	var result []IBInterface
	for _, iface := range ifaces {
		if !strings.HasPrefix(iface.Name, "ib") {
			continue
		}

		entry := IBInterface{Name: iface.Name, Status: "down"}
		if iface.Flags&net.FlagUp != 0 {
			entry.Status = "up"
		}

		addrs, err := iface.Addrs()
		if err == nil {
			for _, addr := range addrs {
				if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.To4() != nil {
					entry.IPAddress = ipNet.IP.String()
					break
				}
			}
		}
		if entry.IPAddress == "" {
			entry.IPAddress = "no address"
		}

		result = append(result, entry)
	}

	return result, nil
}
