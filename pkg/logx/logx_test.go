package logx

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "watch"))
	log.Info("cycle done", Int("events", 2), Err(errors.New("boom")), Err(nil))

	out := buf.String()
	for _, want := range []string{`"comp":"watch"`, `"events":2`, `"err":"boom"`, `"message":"cycle done"`, `"caller":"logx_test.go:`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %s", out, want)
		}
	}
}

func TestZeroLoggerIsSilent(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Error("nothing happens")
	Nop().Warn("nor here")
}

func TestFormatAlert(t *testing.T) {
	t.Parallel()

	got := formatAlert([]byte(`{"level":"warn","time":"x","caller":"a.go:1","message":"delivery failed","audience":"telegram:GroupMessage:1","err":"timeout"}`))
	want := "[WARN] delivery failed\n- audience=telegram:GroupMessage:1\n- err=timeout"
	if got != want {
		t.Fatalf("formatAlert=%q want %q", got, want)
	}

	if got := formatAlert([]byte("  not json \n")); got != "not json" {
		t.Fatalf("raw fallback=%q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("abcdefghijklmnop", 12); got != "abcdefghi..." {
		t.Fatalf("truncate=%q", got)
	}
	if got := truncate("short", 12); got != "short" {
		t.Fatalf("truncate=%q", got)
	}
}
