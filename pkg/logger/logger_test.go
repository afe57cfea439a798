package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name string
		cfg  *LoggerConfig
	}{
		{name: "nil config", cfg: nil},
		{name: "production", cfg: &LoggerConfig{Debug: false}},
		{name: "debug", cfg: &LoggerConfig{Debug: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLogger(tt.cfg)
			require.NoError(t, err)
			require.NotNil(t, l)
			l.Sugar().Infow("logger test", "case", tt.name)
		})
	}
}

func TestNewLogger_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toshi.log")

	l, err := NewLogger(&LoggerConfig{FilePath: path})
	require.NoError(t, err)

	l.Sugar().Infow("written to file", "address", "0xa391af6a522436f335b7c6486640153641847ea2")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Contains(t, string(data), "0xa391af6a522436f335b7c6486640153641847ea2")
}
