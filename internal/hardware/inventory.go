package hardware

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

var (
	// ErrNoAcceleratorTooling indicates that no GPU query tooling (NVML or
	// nvidia-smi) is usable on this host.
	ErrNoAcceleratorTooling = errors.New("no accelerator query tooling available")

	// ErrNoDevicesFound indicates the query tooling works but reported zero devices.
	ErrNoDevicesFound = errors.New("no accelerator devices found")
)

// Device is one accelerator as reported by the query tooling. MemoryMiB is 0
// when the tooling returned an unparsable memory figure for the device.
type Device struct {
	Index     int
	Name      string
	MemoryMiB int
}

// DeviceInventory is the probed accelerator set. Count is authoritative and
// may exceed len(Devices) when the detailed listing was partially unusable.
type DeviceInventory struct {
	Count   int
	Devices []Device
}

// CapacitySummary reduces an inventory to the figures launch planning needs:
// the weakest device bounds what can safely run across all of them.
type CapacitySummary struct {
	DeviceCount   int
	MinMemoryMiB  int
	DistinctNames []string
}

// DeviceRow is one row of the detailed device listing. Err marks rows the
// querier could identify but not fully parse.
type DeviceRow struct {
	Index     int
	Name      string
	MemoryMiB int
	Err       error
}

// Querier is the pluggable hardware-query boundary. Any tool that can report
// a device count and a per-device name+memory listing satisfies it.
type Querier interface {
	// DeviceCount returns the authoritative number of devices.
	DeviceCount() (int, error)
	// ListDevices returns the detailed per-device listing. Rows with parse
	// problems are returned with Err set rather than dropped.
	ListDevices() ([]DeviceRow, error)
}

// Probe queries the host for its accelerator inventory. The count query is
// authoritative: a partially unusable detailed listing never reduces the
// perceived device count. Rows with unparsable memory are kept with
// MemoryMiB=0 so they are excluded from the min-reduction but still counted.
func Probe(q Querier, logger zerolog.Logger) (DeviceInventory, error) {
	count, err := q.DeviceCount()
	if err != nil {
		return DeviceInventory{}, fmt.Errorf("querying device count: %w", err)
	}
	if count == 0 {
		return DeviceInventory{}, ErrNoDevicesFound
	}

	inv := DeviceInventory{Count: count}

	rows, err := q.ListDevices()
	if err != nil {
		// The count stands on its own; the listing only refines it.
		logger.Warn().Err(err).Msg("device listing failed, continuing with count only")
		return inv, nil
	}

	for _, row := range rows {
		if row.Err != nil {
			logger.Warn().Int("device", row.Index).Err(row.Err).Msg("skipping unparsable device row")
			inv.Devices = append(inv.Devices, Device{Index: row.Index, Name: row.Name})
			continue
		}
		inv.Devices = append(inv.Devices, Device{Index: row.Index, Name: row.Name, MemoryMiB: row.MemoryMiB})
	}

	return inv, nil
}

// Capacity derives the conservative capacity figures from the inventory.
// MinMemoryMiB is the minimum over devices with a known memory size, or 0
// when no device reported one.
func (inv DeviceInventory) Capacity() CapacitySummary {
	summary := CapacitySummary{DeviceCount: inv.Count}

	seen := make(map[string]bool)
	minMem := 0
	for _, d := range inv.Devices {
		if d.Name != "" && !seen[d.Name] {
			seen[d.Name] = true
			summary.DistinctNames = append(summary.DistinctNames, d.Name)
		}
		if d.MemoryMiB <= 0 {
			continue
		}
		if minMem == 0 || d.MemoryMiB < minMem {
			minMem = d.MemoryMiB
		}
	}
	summary.MinMemoryMiB = minMem

	return summary
}
