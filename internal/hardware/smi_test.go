package hardware

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smiWithOutput(t *testing.T, outputs map[string][]byte) *SMIQuerier {
	t.Helper()
	return &SMIQuerier{
		run: func(args ...string) ([]byte, error) {
			out, ok := outputs[args[0]]
			if !ok {
				return nil, errors.New("unexpected nvidia-smi invocation")
			}
			return out, nil
		},
	}
}

func TestSMIDeviceCount(t *testing.T) {
	q := smiWithOutput(t, map[string][]byte{
		"--list-gpus": []byte(
			"GPU 0: NVIDIA H100 80GB HBM3 (UUID: GPU-aaa)\n" +
				"GPU 1: NVIDIA H100 80GB HBM3 (UUID: GPU-bbb)\n"),
	})

	count, err := q.DeviceCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSMIDeviceCountCommandFailure(t *testing.T) {
	q := &SMIQuerier{run: func(args ...string) ([]byte, error) {
		return nil, errors.New("exit status 9")
	}}

	_, err := q.DeviceCount()
	require.Error(t, err)
}

func TestSMIListDevicesParsesCSV(t *testing.T) {
	q := smiWithOutput(t, map[string][]byte{
		"--query-gpu=name,memory.total": []byte(
			"NVIDIA H100 80GB HBM3, 81559\n" +
				"NVIDIA A100-SXM4-40GB, 40960\n"),
	})

	rows, err := q.ListDevices()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "NVIDIA H100 80GB HBM3", rows[0].Name)
	assert.Equal(t, 81559, rows[0].MemoryMiB)
	assert.NoError(t, rows[0].Err)
	assert.Equal(t, 40960, rows[1].MemoryMiB)
}

func TestSMIListDevicesMarksUnparsableMemory(t *testing.T) {
	q := smiWithOutput(t, map[string][]byte{
		"--query-gpu=name,memory.total": []byte(
			"NVIDIA H100 80GB HBM3, 81559\n" +
				"NVIDIA H100 80GB HBM3, [N/A]\n"),
	})

	rows, err := q.ListDevices()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.NoError(t, rows[0].Err)
	require.Error(t, rows[1].Err)
	assert.Equal(t, "NVIDIA H100 80GB HBM3", rows[1].Name)
	assert.Equal(t, 0, rows[1].MemoryMiB)
}

func TestSMIListDevicesMarksMalformedRow(t *testing.T) {
	q := smiWithOutput(t, map[string][]byte{
		"--query-gpu=name,memory.total": []byte("garbage-without-separator\n"),
	})

	rows, err := q.ListDevices()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Error(t, rows[0].Err)
}

func TestSMIListDevicesSkipsBlankLines(t *testing.T) {
	q := smiWithOutput(t, map[string][]byte{
		"--query-gpu=name,memory.total": []byte("\nNVIDIA L4, 23034\n\n"),
	})

	rows, err := q.ListDevices()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "NVIDIA L4", rows[0].Name)
	assert.Equal(t, 23034, rows[0].MemoryMiB)
}
