package launchcfg

import "strconv"

// Domain defaults for fields that do not derive from detected hardware.
const (
	DefaultModel           = "Qwen/Qwen2.5-7B-Instruct"
	DefaultPort            = 8000
	DefaultMaxLoraAdapters = 8
	DefaultMaxLoraRank     = 32
)

// Override field names, matching the environment surface consumed by the
// resolver. These are the names reported in InvalidOverrideError.
const (
	FieldModel           = "MODEL"
	FieldPort            = "PORT"
	FieldTPSize          = "TP_SIZE"
	FieldTrainMicroBS    = "TRAIN_MICRO_BS"
	FieldMaxLoraAdapters = "MAX_LORA_ADAPTERS"
	FieldMaxLoraRank     = "MAX_LORA_RANK"
)

// PartialConfig carries raw user overrides. Empty or "auto" means "apply the
// heuristic default"; anything else must validate.
type PartialConfig struct {
	Model           string
	Port            string
	TPSize          string
	TrainMicroBS    string
	MaxLoraAdapters string
	MaxLoraRank     string
}

// LaunchConfig is a fully resolved, validated server launch configuration.
// Immutable once resolved; consumed exactly once by the launcher.
type LaunchConfig struct {
	Model           string
	Port            int
	TensorParallel  int
	TrainMicroBatch int
	MaxLoraAdapters int
	MaxLoraRank     int
}

// Args serializes the configuration to the server's launch argument surface.
// The caller prepends the runner invocation (e.g. "uv run tx").
func (c LaunchConfig) Args() []string {
	return []string{
		"serve",
		"--base-model", c.Model,
		"--max-lora-adapters", strconv.Itoa(c.MaxLoraAdapters),
		"--max-lora-rank", strconv.Itoa(c.MaxLoraRank),
		"--tensor-parallel-size", strconv.Itoa(c.TensorParallel),
		"--train-micro-batch-size", strconv.Itoa(c.TrainMicroBatch),
		"--port", strconv.Itoa(c.Port),
		"--host", "0.0.0.0",
	}
}
