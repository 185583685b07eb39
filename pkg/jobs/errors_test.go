package jobs

import (
	"errors"
	"testing"
)

func TestActionFor(t *testing.T) {
	ioErr := errors.New("i/o error")

	cases := []struct {
		mode ErrorMode
		err  error
		want Action
	}{
		{OnErrorReport, ioErr, ActionReport},
		{OnErrorStop, ioErr, ActionStop},
		{OnErrorIgnore, ioErr, ActionIgnore},
		{OnErrorReport, nil, ActionIgnore},
	}

	for _, c := range cases {
		if got := ActionFor(c.mode, true, c.err); got != c.want {
			t.Errorf("ActionFor(%v, %v) = %v, want %v", c.mode, c.err, got, c.want)
		}
	}
}

func TestErrorModeText(t *testing.T) {
	for _, s := range []string{"report", "stop", "ignore"} {
		var m ErrorMode
		if err := m.UnmarshalText([]byte(s)); err != nil {
			t.Fatalf("UnmarshalText(%q) failed: %v", s, err)
		}
		if m.String() != s {
			t.Errorf("round trip %q = %q", s, m.String())
		}
	}

	var m ErrorMode
	if err := m.UnmarshalText([]byte("explode")); err == nil {
		t.Error("UnmarshalText should reject unknown modes")
	}
}
