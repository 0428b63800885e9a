package output

import (
	"bytes"
	"strings"
	"testing"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := Out
	Out = &buf
	t.Cleanup(func() { Out = prev })
	return &buf
}

func TestMessages(t *testing.T) {
	buf := capture(t)
	Success("applied %d", 3)
	Warning("drift in %s", "cinema")
	Error("failed")
	Info("nothing to do")

	got := buf.String()
	for _, want := range []string{"applied 3\n", "drift in cinema\n", "failed\n", "nothing to do\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q does not contain %q", got, want)
		}
	}
}

func TestSectionUnderline(t *testing.T) {
	buf := capture(t)
	Section("Schema qa")

	if !strings.Contains(buf.String(), strings.Repeat("═", len("Schema qa"))) {
		t.Errorf("section underline missing in %q", buf.String())
	}
}

func TestChange(t *testing.T) {
	buf := capture(t)
	Change("+ table qa.users")
	Change("- index idx_old")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "+ table qa.users") {
		t.Errorf("first line = %q", lines[0])
	}
}

func TestStatusIcon(t *testing.T) {
	for _, status := range []string{"applied", "pending", "failed", "other"} {
		if StatusIcon(status) == "" {
			t.Errorf("StatusIcon(%q) is empty", status)
		}
	}
}
