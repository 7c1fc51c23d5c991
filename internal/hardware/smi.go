package hardware

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// SMIQuerier answers device queries by shelling out to nvidia-smi. It is the
// fallback path for hosts where the NVML library cannot be loaded directly
// but driver tooling is installed.
type SMIQuerier struct {
	// run executes nvidia-smi with the given arguments. Overridable in tests.
	run func(args ...string) ([]byte, error)
}

// NewSMIQuerier returns a querier backed by the nvidia-smi binary on PATH.
func NewSMIQuerier() (*SMIQuerier, error) {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return nil, fmt.Errorf("%w: nvidia-smi not found in PATH", ErrNoAcceleratorTooling)
	}
	return &SMIQuerier{
		run: func(args ...string) ([]byte, error) {
			return exec.Command(path, args...).Output()
		},
	}, nil
}

// DeviceCount counts the lines of `nvidia-smi --list-gpus`.
func (q *SMIQuerier) DeviceCount() (int, error) {
	output, err := q.run("--list-gpus")
	if err != nil {
		return 0, fmt.Errorf("nvidia-smi --list-gpus failed: %w", err)
	}

	count := 0
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count, nil
}

// ListDevices parses the CSV listing of `nvidia-smi --query-gpu=name,memory.total`.
// Rows with a malformed memory column are returned with Err set; the name is
// kept when present.
func (q *SMIQuerier) ListDevices() ([]DeviceRow, error) {
	output, err := q.run("--query-gpu=name,memory.total", "--format=csv,noheader,nounits")
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi query failed: %w", err)
	}

	var rows []DeviceRow
	for i, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		row := DeviceRow{Index: i}
		fields := strings.Split(line, ", ")
		if len(fields) < 2 {
			row.Err = fmt.Errorf("malformed device row %q", line)
			rows = append(rows, row)
			continue
		}

		row.Name = strings.TrimSpace(fields[0])
		mem, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil || mem <= 0 {
			row.Err = fmt.Errorf("unparsable memory %q for device %d", fields[1], i)
			rows = append(rows, row)
			continue
		}
		row.MemoryMiB = mem

		rows = append(rows, row)
	}

	return rows, nil
}

// DetectQuerier picks the best available query tooling: NVML when the driver
// library initializes, nvidia-smi otherwise.
func DetectQuerier() (Querier, error) {
	nvmlQ := NVMLQuerier{}
	if _, err := nvmlQ.DeviceCount(); err == nil {
		return nvmlQ, nil
	}

	smiQ, err := NewSMIQuerier()
	if err != nil {
		return nil, err
	}
	return smiQ, nil
}
