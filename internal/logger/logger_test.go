package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"tendersync/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{" error ", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"loud", zapcore.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in); got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNew(t *testing.T) {
	for _, encoding := range []string{"json", "console"} {
		log, err := New(config.LogConfig{Level: "info", Encoding: encoding, Sampling: true})
		if err != nil {
			t.Fatalf("new %s logger: %v", encoding, err)
		}
		if !log.Core().Enabled(zapcore.InfoLevel) {
			t.Fatalf("%s logger does not log at info", encoding)
		}
		if log.Core().Enabled(zapcore.DebugLevel) {
			t.Fatalf("%s logger logs below its level", encoding)
		}
	}
}
