package bytesize

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want ByteSize
	}{
		{"1024", 1024},
		{"512Ki", 512 * KiB},
		{"512KiB", 512 * KiB},
		{"4Mi", 4 * MiB},
		{"100MB", 100 * MB},
		{"1Gi", GiB},
		{"2.5Mi", ByteSize(2.5 * float64(MiB))},
		{" 8 Ki ", 8 * KiB},
		{"0", 0},
	}

	for _, c := range cases {
		got, err := Parse(c.in)
		if err != nil {
			t.Errorf("Parse(%q) returned error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("Parse(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "12XB", "Ki", "-5Ki"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) should fail", in)
		}
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	if err := b.UnmarshalText([]byte("512Ki")); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if b != 512*KiB {
		t.Errorf("UnmarshalText = %d, want %d", b, 512*KiB)
	}
}

func TestString(t *testing.T) {
	cases := []struct {
		in   ByteSize
		want string
	}{
		{512, "512B"},
		{512 * KiB, "512.00KiB"},
		{4 * MiB, "4.00MiB"},
		{GiB, "1.00GiB"},
	}
	for _, c := range cases {
		if got := c.in.String(); got != c.want {
			t.Errorf("String(%d) = %q, want %q", uint64(c.in), got, c.want)
		}
	}
}
