package graph

import (
	"strings"
	"testing"
)

const sampleManifest = `
top: active
nodes:
  - name: base
    format: raw
    protocol: true
    length: 2Mi
    extents:
      - {offset: 0, length: 2Mi}
  - name: snap1
    format: qcow2
    length: 2Mi
    backing: base
    extents:
      - {offset: 1Mi, length: 512Ki}
  - name: active
    format: qcow2
    length: 2Mi
    backing: snap1
`

func TestParseAndBuildManifest(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}

	g, top, ids, err := m.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if g.Name(top) != "active" {
		t.Errorf("top node = %q, want active", g.Name(top))
	}
	if got := g.BackingChild(top); got != ids["snap1"] {
		t.Errorf("active backing = %v, want snap1", got)
	}
	if !g.IsProtocol(ids["base"]) {
		t.Error("base should be a protocol node")
	}

	length, err := g.Length(top)
	if err != nil || length != 2<<20 {
		t.Errorf("Length(top) = (%d, %v), want 2MiB", length, err)
	}

	alloc, run, err := g.IsAllocated(ids["snap1"], 1<<20, 2<<20)
	if err != nil || !alloc || run != 512<<10 {
		t.Errorf("snap1 extent = (%v, %d, %v), want (true, 512KiB, nil)", alloc, run, err)
	}
}

func TestManifestValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"no nodes", "top: a\nnodes: []\n"},
		{"no top", "nodes:\n  - {name: a, length: 1Mi}\n"},
		{"bad size", "top: a\nnodes:\n  - {name: a, length: 1Xi}\n"},
	}
	for _, c := range cases {
		if _, err := ParseManifest([]byte(c.yaml)); err == nil {
			t.Errorf("%s: ParseManifest should fail", c.name)
		}
	}
}

func TestBuildValidation(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			"unknown backing",
			"top: a\nnodes:\n  - {name: a, length: 1Mi, backing: ghost}\n",
			"unknown backing",
		},
		{
			"duplicate node",
			"top: a\nnodes:\n  - {name: a, length: 1Mi}\n  - {name: a, length: 1Mi}\n",
			"duplicate",
		},
		{
			"missing top",
			"top: ghost\nnodes:\n  - {name: a, length: 1Mi}\n",
			"top node",
		},
	}
	for _, c := range cases {
		m, err := ParseManifest([]byte(c.yaml))
		if err != nil {
			t.Fatalf("%s: ParseManifest failed: %v", c.name, err)
		}
		_, _, _, err = m.Build()
		if err == nil || !strings.Contains(err.Error(), c.wantErr) {
			t.Errorf("%s: Build error = %v, want containing %q", c.name, err, c.wantErr)
		}
	}
}
