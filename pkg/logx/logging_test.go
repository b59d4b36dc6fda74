package logx

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" info ", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in, zerolog.InfoLevel); got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestZeroValueLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero value should report IsZero")
	}
	// Must not panic.
	l.Info("ignored", String("k", "v"))
	l.Error("ignored", Err(nil))
}

func TestNopLoggerIsNotZeroButSilent(t *testing.T) {
	l := Nop()
	if l.IsZero() {
		t.Fatalf("Nop logger should not be the zero value")
	}
	if l.Enabled(LevelError) {
		t.Fatalf("Nop logger should have everything disabled")
	}
	l.Warn("ignored")
}

func TestWithDoesNotMutateParent(t *testing.T) {
	parent := Nop()
	child := parent.With(String("component", "x"))
	if len(parent.fields) != 0 {
		t.Fatalf("parent gained fields")
	}
	if len(child.fields) != 1 {
		t.Fatalf("child fields = %d", len(child.fields))
	}
	grand := child.With(Int("n", 1), Bool("b", true))
	if len(child.fields) != 1 || len(grand.fields) != 3 {
		t.Fatalf("field chains shared storage: %d/%d", len(child.fields), len(grand.fields))
	}
}

func TestServiceApplySwapsLevel(t *testing.T) {
	svc, log := New(Config{Level: "error", Console: false})
	defer svc.Close()

	if log.Enabled(LevelDebug) {
		t.Fatalf("debug enabled at error level")
	}
	svc.Apply(Config{Level: "debug", Console: false})
	if !log.Enabled(LevelDebug) {
		t.Fatalf("handed-out logger must follow Apply")
	}
}
