package jobs

import "fmt"

// ErrorMode is the configured on-error policy of a job.
type ErrorMode int

const (
	// OnErrorReport aborts the job at the first failure.
	OnErrorReport ErrorMode = iota

	// OnErrorStop pauses the job at the failing chunk; the same chunk is
	// retried once the job is resumed.
	OnErrorStop

	// OnErrorIgnore continues past failures; the first one is still
	// remembered and reported when the job ends.
	OnErrorIgnore
)

// String implements fmt.Stringer.
func (m ErrorMode) String() string {
	switch m {
	case OnErrorReport:
		return "report"
	case OnErrorStop:
		return "stop"
	case OnErrorIgnore:
		return "ignore"
	default:
		return fmt.Sprintf("ErrorMode(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m ErrorMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so ErrorMode can be
// used directly in config structs.
func (m *ErrorMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "report":
		*m = OnErrorReport
	case "stop":
		*m = OnErrorStop
	case "ignore":
		*m = OnErrorIgnore
	default:
		return fmt.Errorf("unknown on-error mode: %q", text)
	}
	return nil
}

// Action is what the job must do about a failed operation.
type Action int

const (
	ActionReport Action = iota
	ActionStop
	ActionIgnore
)

// ActionFor maps a failed operation to the action the job takes, given the
// configured mode and whether the failure was a read. The streaming engine
// only ever reads, so isRead is true for all of its failures today; the
// parameter stays so write-capable jobs share the same policy.
func ActionFor(mode ErrorMode, isRead bool, err error) Action {
	_ = isRead
	if err == nil {
		return ActionIgnore
	}
	switch mode {
	case OnErrorStop:
		return ActionStop
	case OnErrorIgnore:
		return ActionIgnore
	default:
		return ActionReport
	}
}
