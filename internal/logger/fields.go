package logger

// Standard field keys used across the streaming engine so log lines stay
// greppable and consistent between packages.
const (
	KeyJob       = "job"
	KeyNode      = "node"
	KeyOffset    = "offset"
	KeyBytes     = "bytes"
	KeyError     = "error"
	KeyThreshold = "threshold"
	KeyIOPS      = "iops"
)
