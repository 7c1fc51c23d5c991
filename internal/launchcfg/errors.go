package launchcfg

import "fmt"

// InvalidOverrideError reports a user-supplied override that failed
// validation. Field carries the override's environment-surface name
// (e.g. "TP_SIZE") and Value the raw input.
type InvalidOverrideError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidOverrideError) Error() string {
	return fmt.Sprintf("invalid override %s=%q: %s", e.Field, e.Value, e.Reason)
}

// UnsatisfiableConfigError reports that no valid launch configuration can be
// produced for the detected hardware.
type UnsatisfiableConfigError struct {
	Reason string
}

func (e *UnsatisfiableConfigError) Error() string {
	return fmt.Sprintf("unsatisfiable launch configuration: %s", e.Reason)
}
