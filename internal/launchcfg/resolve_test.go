package launchcfg

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyops/txctl/internal/hardware"
)

func inventory(memoriesMiB ...int) hardware.DeviceInventory {
	inv := hardware.DeviceInventory{Count: len(memoriesMiB)}
	for i, mem := range memoriesMiB {
		inv.Devices = append(inv.Devices, hardware.Device{Index: i, Name: "NVIDIA H100 80GB HBM3", MemoryMiB: mem})
	}
	return inv
}

func TestResolveDefaults(t *testing.T) {
	cfg, err := Resolve(inventory(81559, 81559), PartialConfig{}, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, DefaultModel, cfg.Model)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, 2, cfg.TensorParallel)
	assert.Equal(t, 8, cfg.TrainMicroBatch) // 81559 MiB lands in the mid band
	assert.Equal(t, DefaultMaxLoraAdapters, cfg.MaxLoraAdapters)
	assert.Equal(t, DefaultMaxLoraRank, cfg.MaxLoraRank)
}

func TestResolveModelOverride(t *testing.T) {
	cfg, err := Resolve(inventory(81559), PartialConfig{Model: "meta-llama/Llama-3.1-8B-Instruct"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "meta-llama/Llama-3.1-8B-Instruct", cfg.Model)
}

func TestResolveZeroDevicesUnsatisfiable(t *testing.T) {
	_, err := Resolve(hardware.DeviceInventory{}, PartialConfig{}, zerolog.Nop())

	var unsat *UnsatisfiableConfigError
	require.ErrorAs(t, err, &unsat)
}

func TestResolveTensorParallelClampedToDeviceCount(t *testing.T) {
	cfg, err := Resolve(inventory(81559, 81559), PartialConfig{TPSize: "8"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.TensorParallel)
}

func TestResolveClampEmitsWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	cfg, err := Resolve(inventory(81559, 81559, 81559, 81559), PartialConfig{TPSize: "16"}, logger)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.TensorParallel)

	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "clamping")
	assert.Contains(t, buf.String(), `"requested":16`)
	assert.Contains(t, buf.String(), `"devices":4`)
}

func TestResolveWithoutClampStaysQuiet(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	_, err := Resolve(inventory(81559, 81559), PartialConfig{TPSize: "2"}, logger)
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestResolveTensorParallelBelowDeviceCountKept(t *testing.T) {
	cfg, err := Resolve(inventory(81559, 81559, 81559, 81559), PartialConfig{TPSize: "2"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.TensorParallel)
}

func TestResolveInvalidOverrides(t *testing.T) {
	cases := []struct {
		name  string
		pc    PartialConfig
		field string
		value string
	}{
		{"tp zero", PartialConfig{TPSize: "0"}, FieldTPSize, "0"},
		{"tp negative", PartialConfig{TPSize: "-1"}, FieldTPSize, "-1"},
		{"tp garbage", PartialConfig{TPSize: "abc"}, FieldTPSize, "abc"},
		{"micro-batch garbage", PartialConfig{TrainMicroBS: "many"}, FieldTrainMicroBS, "many"},
		{"micro-batch zero", PartialConfig{TrainMicroBS: "0"}, FieldTrainMicroBS, "0"},
		{"port garbage", PartialConfig{Port: "http"}, FieldPort, "http"},
		{"port out of range", PartialConfig{Port: "70000"}, FieldPort, "70000"},
		{"adapters zero", PartialConfig{MaxLoraAdapters: "0"}, FieldMaxLoraAdapters, "0"},
		{"rank negative", PartialConfig{MaxLoraRank: "-4"}, FieldMaxLoraRank, "-4"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Resolve(inventory(81559), tc.pc, zerolog.Nop())

			var invalid *InvalidOverrideError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tc.field, invalid.Field)
			assert.Equal(t, tc.value, invalid.Value)
		})
	}
}

func TestResolveAutoTreatedAsUnset(t *testing.T) {
	cfg, err := Resolve(inventory(81559, 81559), PartialConfig{TPSize: "auto", TrainMicroBS: "AUTO"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.TensorParallel)
	assert.Equal(t, 8, cfg.TrainMicroBatch)
}

func TestResolveMicroBatchBands(t *testing.T) {
	cases := []struct {
		minMemoryMiB int
		want         int
	}{
		{181000, 16},
		{180000, 16},
		{179999, 12},
		{120000, 12},
		{119999, 8},
		{80000, 8},
		{79999, 4},
		{24000, 4},
		{0, 4}, // unknown memory falls back to the most conservative band
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, defaultMicroBatch(tc.minMemoryMiB), "minMemoryMiB=%d", tc.minMemoryMiB)
	}
}

func TestResolveMicroBatchUsesWeakestDevice(t *testing.T) {
	// Mixed fleet: the smaller device decides the default.
	inv := hardware.DeviceInventory{
		Count: 2,
		Devices: []hardware.Device{
			{Index: 0, Name: "NVIDIA H200", MemoryMiB: 143771},
			{Index: 1, Name: "NVIDIA H100 80GB HBM3", MemoryMiB: 81559},
		},
	}

	cfg, err := Resolve(inv, PartialConfig{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.TrainMicroBatch)
}

func TestResolveMixedFleetDefaults(t *testing.T) {
	inv := inventory(80000, 120000, 80000, 120000, 80000, 120000, 80000, 120000)

	cfg, err := Resolve(inv, PartialConfig{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.TensorParallel)
	assert.Equal(t, 8, cfg.TrainMicroBatch)
}

func TestResolveMicroBatchOverrideWinsOverHeuristic(t *testing.T) {
	cfg, err := Resolve(inventory(200000), PartialConfig{TrainMicroBS: "2"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.TrainMicroBatch)
}

func TestResolvePortOverride(t *testing.T) {
	cfg, err := Resolve(inventory(81559), PartialConfig{Port: "8200"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 8200, cfg.Port)
}

func TestResolveLoraOverrides(t *testing.T) {
	cfg, err := Resolve(inventory(81559), PartialConfig{MaxLoraAdapters: "16", MaxLoraRank: "64"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.MaxLoraAdapters)
	assert.Equal(t, 64, cfg.MaxLoraRank)
}

func TestArgsSurface(t *testing.T) {
	cfg := LaunchConfig{
		Model:           "Qwen/Qwen2.5-7B-Instruct",
		Port:            8000,
		TensorParallel:  2,
		TrainMicroBatch: 8,
		MaxLoraAdapters: 8,
		MaxLoraRank:     32,
	}

	assert.Equal(t, []string{
		"serve",
		"--base-model", "Qwen/Qwen2.5-7B-Instruct",
		"--max-lora-adapters", "8",
		"--max-lora-rank", "32",
		"--tensor-parallel-size", "2",
		"--train-micro-batch-size", "8",
		"--port", "8000",
		"--host", "0.0.0.0",
	}, cfg.Args())
}

func TestInvalidOverrideErrorMessage(t *testing.T) {
	err := &InvalidOverrideError{Field: FieldTPSize, Value: "abc", Reason: "must be a positive integer"}
	assert.Equal(t, `invalid override TP_SIZE="abc": must be a positive integer`, err.Error())
}
