package hardware

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// NVMLQuerier answers device queries through the NVIDIA management library.
// Each call initializes and shuts down NVML so the querier holds no
// long-lived driver state between probes.
type NVMLQuerier struct{}

// DeviceCount returns the number of NVIDIA GPUs visible to the driver.
func (NVMLQuerier) DeviceCount() (int, error) {
	ret := nvml.Init()
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("%w: failed to initialize NVML: %s", ErrNoAcceleratorTooling, nvml.ErrorString(ret))
	}
	defer func() {
		if shutdownRet := nvml.Shutdown(); shutdownRet != nvml.SUCCESS {
			fmt.Printf("Warning: failed to shutdown NVML: %v\n", nvml.ErrorString(shutdownRet))
		}
	}()

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("failed to get device count: %s", nvml.ErrorString(ret))
	}

	return count, nil
}

// ListDevices returns name and total memory for every GPU. Devices whose
// handle or attributes cannot be read are reported with Err set so the
// prober can keep the authoritative count intact.
func (NVMLQuerier) ListDevices() ([]DeviceRow, error) {
	ret := nvml.Init()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("%w: failed to initialize NVML: %s", ErrNoAcceleratorTooling, nvml.ErrorString(ret))
	}
	defer func() {
		if shutdownRet := nvml.Shutdown(); shutdownRet != nvml.SUCCESS {
			fmt.Printf("Warning: failed to shutdown NVML in ListDevices: %v\n", nvml.ErrorString(shutdownRet))
		}
	}()

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("failed to get device count: %s", nvml.ErrorString(ret))
	}

	rows := make([]DeviceRow, 0, count)
	for i := 0; i < count; i++ {
		row := DeviceRow{Index: i}

		device, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			row.Err = fmt.Errorf("failed to get device handle for GPU %d: %s", i, nvml.ErrorString(ret))
			rows = append(rows, row)
			continue
		}

		name, ret := device.GetName()
		if ret != nvml.SUCCESS {
			row.Err = fmt.Errorf("failed to get device name for GPU %d: %s", i, nvml.ErrorString(ret))
			rows = append(rows, row)
			continue
		}
		row.Name = name

		mem, ret := device.GetMemoryInfo()
		if ret != nvml.SUCCESS {
			row.Err = fmt.Errorf("failed to get memory info for GPU %d: %s", i, nvml.ErrorString(ret))
			rows = append(rows, row)
			continue
		}
		row.MemoryMiB = int(mem.Total / (1024 * 1024))

		rows = append(rows, row)
	}

	return rows, nil
}
