package launchcfg

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/skyops/txctl/internal/hardware"
)

// Micro-batch bands by minimum per-device memory. Inclusive lower bounds;
// the highest band met wins. A coarse VRAM-headroom heuristic, advisory
// rather than guaranteed-safe.
const (
	microBatchHugeMiB  = 180000
	microBatchLargeMiB = 120000
	microBatchMidMiB   = 80000
)

// Resolve turns the probed inventory plus user overrides into a concrete,
// validated LaunchConfig. Each field resolves independently: an explicit
// override is validated and used verbatim, otherwise the heuristic default
// applies. The one corrective case is tensor parallelism, which is clamped
// down to the device count with a warning rather than rejected.
func Resolve(inv hardware.DeviceInventory, pc PartialConfig, logger zerolog.Logger) (LaunchConfig, error) {
	if inv.Count < 1 {
		return LaunchConfig{}, &UnsatisfiableConfigError{Reason: "no accelerator devices detected"}
	}

	capacity := inv.Capacity()
	cfg := LaunchConfig{Model: DefaultModel}

	if pc.Model != "" {
		cfg.Model = pc.Model
	}

	tp, set, err := parsePositive(FieldTPSize, pc.TPSize)
	if err != nil {
		return LaunchConfig{}, err
	}
	if !set {
		tp = capacity.DeviceCount
	} else if tp > capacity.DeviceCount {
		logger.Warn().
			Int("requested", tp).
			Int("devices", capacity.DeviceCount).
			Msg("tensor parallel size exceeds device count, clamping down")
		tp = capacity.DeviceCount
	}
	cfg.TensorParallel = tp

	mbs, set, err := parsePositive(FieldTrainMicroBS, pc.TrainMicroBS)
	if err != nil {
		return LaunchConfig{}, err
	}
	if !set {
		mbs = defaultMicroBatch(capacity.MinMemoryMiB)
	}
	cfg.TrainMicroBatch = mbs

	port, set, err := parsePositive(FieldPort, pc.Port)
	if err != nil {
		return LaunchConfig{}, err
	}
	if !set {
		port = DefaultPort
	}
	if port > 65535 {
		return LaunchConfig{}, &InvalidOverrideError{Field: FieldPort, Value: pc.Port, Reason: "port must be between 1 and 65535"}
	}
	cfg.Port = port

	adapters, set, err := parsePositive(FieldMaxLoraAdapters, pc.MaxLoraAdapters)
	if err != nil {
		return LaunchConfig{}, err
	}
	if !set {
		adapters = DefaultMaxLoraAdapters
	}
	cfg.MaxLoraAdapters = adapters

	rank, set, err := parsePositive(FieldMaxLoraRank, pc.MaxLoraRank)
	if err != nil {
		return LaunchConfig{}, err
	}
	if !set {
		rank = DefaultMaxLoraRank
	}
	cfg.MaxLoraRank = rank

	if err := cfg.validate(capacity.DeviceCount); err != nil {
		return LaunchConfig{}, err
	}

	return cfg, nil
}

// validate re-asserts every invariant on the resolved configuration. The
// resolver may run against inventories built directly in tests, so the
// checks are not assumed to be covered upstream.
func (c LaunchConfig) validate(deviceCount int) error {
	switch {
	case c.Model == "":
		return &UnsatisfiableConfigError{Reason: "empty model identifier"}
	case c.TensorParallel < 1:
		return &UnsatisfiableConfigError{Reason: "tensor parallel size below 1"}
	case c.TensorParallel > deviceCount:
		return &UnsatisfiableConfigError{Reason: "tensor parallel size exceeds device count"}
	case c.TrainMicroBatch < 1:
		return &UnsatisfiableConfigError{Reason: "train micro batch size below 1"}
	case c.Port < 1 || c.Port > 65535:
		return &UnsatisfiableConfigError{Reason: "port out of range"}
	case c.MaxLoraAdapters < 1:
		return &UnsatisfiableConfigError{Reason: "max LoRA adapters below 1"}
	case c.MaxLoraRank < 1:
		return &UnsatisfiableConfigError{Reason: "max LoRA rank below 1"}
	}
	return nil
}

// defaultMicroBatch maps the weakest device's memory to a train micro-batch
// size.
func defaultMicroBatch(minMemoryMiB int) int {
	switch {
	case minMemoryMiB >= microBatchHugeMiB:
		return 16
	case minMemoryMiB >= microBatchLargeMiB:
		return 12
	case minMemoryMiB >= microBatchMidMiB:
		return 8
	default:
		return 4
	}
}

// parsePositive validates an integer override. Empty and "auto" report the
// field as unset.
func parsePositive(field, raw string) (value int, set bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "auto") {
		return 0, false, nil
	}

	n, convErr := strconv.Atoi(raw)
	if convErr != nil {
		return 0, false, &InvalidOverrideError{Field: field, Value: raw, Reason: "must be a positive integer"}
	}
	if n < 1 {
		return 0, false, &InvalidOverrideError{Field: field, Value: raw, Reason: "must be at least 1"}
	}

	return n, true, nil
}
