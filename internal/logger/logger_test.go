package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	Info("streaming started", KeyJob, "job-1", KeyOffset, int64(0))

	out := buf.String()
	if !strings.Contains(out, "streaming started") {
		t.Errorf("output missing message: %q", out)
	}
	if !strings.Contains(out, "job=job-1") {
		t.Errorf("output missing job field: %q", out)
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json")

	Info("calibration complete", KeyThreshold, 42.5)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["msg"] != "calibration complete" {
		t.Errorf("msg = %v, want %q", rec["msg"], "calibration complete")
	}
	if rec[KeyThreshold] != 42.5 {
		t.Errorf("threshold = %v, want 42.5", rec[KeyThreshold])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text")

	Debug("should not appear")
	Info("should not appear either")
	Warn("visible")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("filtered levels leaked: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("warn line missing: %q", out)
	}
}
