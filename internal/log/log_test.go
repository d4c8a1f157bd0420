package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLevelsAndFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)
	t.Cleanup(func() { SetLevel(LevelInfo) })

	Info("hidden", "k", "v")
	Warn("sync failed", errors.New("timeout"), "medication_id", 7, "note", "two words")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered at WARN level: %q", out)
	}
	for _, want := range []string{"[WARN] sync failed", "err=timeout", "medication_id=7", `note="two words"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != LevelDebug {
		t.Errorf("expected DEBUG")
	}
	if ParseLevel("nonsense") != LevelInfo {
		t.Errorf("unknown level should fall back to INFO")
	}
}
