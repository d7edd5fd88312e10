package sandbox

import (
	"archive/tar"
	"encoding/binary"
	"io"
	"slices"
	"strings"
	"testing"
)

func frame(stream byte, payload string) []byte {
	header := make([]byte, frameHeader)
	header[0] = stream
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return append(header, payload...)
}

func frames(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestDemux(t *testing.T) {
	tests := []struct {
		name       string
		input      []byte
		wantOutput string
		wantStderr string
	}{
		{name: "empty"},
		{
			name:       "stdout",
			input:      frame(streamStdout, "hello"),
			wantOutput: "hello",
		},
		{
			name:       "stderr",
			input:      frame(streamStderr, "Traceback"),
			wantOutput: "Traceback",
			wantStderr: "Traceback",
		},
		{
			name:       "interleaved keeps order",
			input:      frames(frame(streamStdout, "before\n"), frame(streamStderr, "ZeroDivisionError\n"), frame(streamStdout, "after\n")),
			wantOutput: "before\nZeroDivisionError\nafter\n",
			wantStderr: "ZeroDivisionError\n",
		},
		{
			name:       "unframed",
			input:      []byte("short"),
			wantOutput: "short",
		},
		{
			name:       "unframed long",
			input:      []byte("plain text output"),
			wantOutput: "plain text output",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := demux(tc.input)
			if res.Output != tc.wantOutput {
				t.Errorf("Output = %q, want %q", res.Output, tc.wantOutput)
			}
			if res.Stderr != tc.wantStderr {
				t.Errorf("Stderr = %q, want %q", res.Stderr, tc.wantStderr)
			}
		})
	}
}

func TestDemux_TruncatedFrame(t *testing.T) {
	header := make([]byte, frameHeader)
	header[0] = streamStdout
	binary.BigEndian.PutUint32(header[4:], 100)

	if res := demux(append(header, "partial"...)); res.Output != "partial" {
		t.Errorf("Output = %q, want partial", res.Output)
	}
}

func TestTarball(t *testing.T) {
	buf, err := tarball("run-1", map[string]string{"b.py": "print(2)", "a.py": "print(1)"})
	if err != nil {
		t.Fatalf("tarball() error = %v", err)
	}

	tr := tar.NewReader(buf)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read tar: %v", err)
		}
		names = append(names, hdr.Name)
	}
	want := []string{"run-1/", "run-1/a.py", "run-1/b.py"}
	if !slices.Equal(names, want) {
		t.Errorf("entries = %v; want %v", names, want)
	}
}

func TestCheckRunDir(t *testing.T) {
	tests := []struct {
		dir   string
		valid bool
	}{
		{"run-0b1c", true},
		{"", false},
		{".", false},
		{"..", false},
		{"a/b", false},
		{"/workspace", false},
	}

	for _, tt := range tests {
		if err := checkRunDir(tt.dir); (err == nil) != tt.valid {
			t.Errorf("checkRunDir(%q) error = %v; want valid=%v", tt.dir, err, tt.valid)
		}
	}
}

func TestKillCommand_TargetsOneRun(t *testing.T) {
	cmd := killCommand("run-a")
	want := []string{"pkill", "-9", "-f", "/workspace/run-a/"}
	if !slices.Equal(cmd, want) {
		t.Fatalf("killCommand() = %v; want %v", cmd, want)
	}

	// The pattern matches this run's interpreter and not a sibling's
	pattern := cmd[len(cmd)-1]
	own := "python3 -u " + RunPath("run-a", "main.py")
	other := "python3 -u " + RunPath("run-ab", "main.py")
	if !strings.Contains(own, pattern) {
		t.Errorf("pattern %q does not match %q", pattern, own)
	}
	if strings.Contains(other, pattern) {
		t.Errorf("pattern %q also matches %q", pattern, other)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Image != "python:3.12-alpine" {
		t.Errorf("Image = %q", cfg.Image)
	}
	if cfg.MemoryMB == 0 || cfg.CPULimit == 0 {
		t.Error("resource limits should be set")
	}
	if !cfg.NetworkOff {
		t.Error("NetworkOff should default to true")
	}
}
