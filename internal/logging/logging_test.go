package logging_test

import (
	"testing"

	"github.com/signalnine/recipeforge/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		format  string
		debug   bool
	}{
		{"default", false, "", false},
		{"json verbose", true, logging.FormatJSON, true},
		{"console", false, logging.FormatConsole, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := logging.New(tt.verbose, tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.debug, logger.Core().Enabled(zapcore.DebugLevel))
			assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
		})
	}
}

func TestNewUnknownFormat(t *testing.T) {
	_, err := logging.New(false, "xml")
	assert.ErrorContains(t, err, "unknown log format")
}
