package logging

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestSetLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected log.Level
	}{
		{"debug lowercase", "debug", log.DebugLevel},
		{"debug uppercase", "DEBUG", log.DebugLevel},
		{"verbose", "verbose", log.DebugLevel},
		{"info", "info", log.InfoLevel},
		{"warn", "warn", log.WarnLevel},
		{"warning mixed case", "Warning", log.WarnLevel},
		{"error", "ERROR", log.ErrorLevel},
		{"quiet", "quiet", log.FatalLevel},
		{"silent", "silent", log.FatalLevel},
		{"padded", "  debug ", log.DebugLevel},
		{"unknown string", "unknown", log.InfoLevel},
		{"empty string", "", log.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log.SetLevel(log.PanicLevel)

			SetLogLevel(tt.input)

			if got := log.GetLevel(); got != tt.expected {
				t.Errorf("SetLogLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSetup_WritesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")

	closer := Setup("info", path)
	log.Info("relay log line")
	require.NoError(t, closer.Close())
	t.Cleanup(func() { log.SetOutput(os.Stdout) })

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "relay log line")
}
