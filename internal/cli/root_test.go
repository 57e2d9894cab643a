package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nbcheck/internal/config"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "nbcheck", cmd.Use)
	assert.Contains(t, cmd.Long, "code cell")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()

	subCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)
	require.NotNil(t, subCmd)
	assert.Equal(t, "run", subCmd.Name())
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	for _, name := range []string{"match", "server-url", "token", "config"} {
		t.Run(name, func(t *testing.T) {
			flag := runCmd.Flags().Lookup(name)
			require.NotNil(t, flag)
			assert.Equal(t, "", flag.DefValue)
		})
	}
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "run", "."})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		verbose   bool
		wantDebug bool
		wantJSON  bool
	}{
		{"default is quiet", "warn", "text", false, false, false},
		{"verbose forces debug", "warn", "text", true, true, false},
		{"configured debug", "debug", "text", false, true, false},
		{"json handler", "debug", "json", false, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Logging.Level = tt.level
			cfg.Logging.Format = tt.format

			buf := &bytes.Buffer{}
			logger, err := newLogger(buf, cfg, tt.verbose)
			require.NoError(t, err)

			logger.Debug("ready", "k", "v")
			if !tt.wantDebug {
				assert.Empty(t, buf.String())
				return
			}
			if tt.wantJSON {
				assert.Contains(t, buf.String(), `"msg":"ready"`)
			} else {
				assert.Contains(t, buf.String(), "msg=ready")
			}
		})
	}
}

func TestNewLogger_BadLevel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Logging.Level = "loud"

	_, err := newLogger(&bytes.Buffer{}, cfg, false)
	assert.Error(t, err)
}
