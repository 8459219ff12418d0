package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/neteye/internal/config"
	"github.com/anstrom/neteye/internal/errors"
	"github.com/anstrom/neteye/internal/scanning"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setConfigDefaults(v, config.Default())
	return v
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(newTestViper())
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Scanning.Target)
	assert.Equal(t, 1, cfg.Scanning.StartPort)
	assert.Equal(t, 65535, cfg.Scanning.EndPort)
	assert.Equal(t, 3000, cfg.Scanning.TimeoutMS)
	assert.False(t, cfg.Scanning.TCP, "no explicit protocol until one is selected")
	assert.Positive(t, cfg.Scanning.Concurrency)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neteye.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scanning:
  target: 10.0.0.1
  start_port: 10
  end_port: 100
  concurrency: 5
  udp: true
logging:
  level: info
`), 0o600))

	t.Setenv("NETEYE_SCANNING_END_PORT", "200")
	t.Setenv("NETEYE_SCANNING_CONCURRENCY", "7")

	flags := pflag.NewFlagSet("scan", pflag.ContinueOnError)
	flags.Int("threads", 1, "")
	require.NoError(t, flags.Parse([]string{"--threads=9"}))

	v := newTestViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	require.NoError(t, v.BindPFlag("scanning.concurrency", flags.Lookup("threads")))

	cfg, err := loadConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", cfg.Scanning.Target, "file over default")
	assert.Equal(t, 10, cfg.Scanning.StartPort, "file over default")
	assert.Equal(t, 200, cfg.Scanning.EndPort, "environment over file")
	assert.Equal(t, 9, cfg.Scanning.Concurrency, "flag over environment")
	assert.True(t, cfg.Scanning.UDP)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"inverted range", "scanning.start_port", 70000},
		{"zero threads", "scanning.concurrency", 0},
		{"negative timeout", "scanning.timeout_ms", -1},
		{"bad log level", "logging.level", "loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestViper()
			v.Set(tt.key, tt.value)

			_, err := loadConfig(v)
			require.Error(t, err)
			assert.Equal(t, 2, errors.ExitCode(err))
		})
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neteye.yaml")

	out, err := executeCommand(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote default configuration")

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Scanning.EndPort, loaded.Scanning.EndPort)

	_, err = executeCommand(t, "config", "init", path)
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfiguration, errors.GetCode(err))

	out, err = executeCommand(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "start_port: 1")
	assert.Contains(t, out, "target: 127.0.0.1")
}

func TestMissingConfigFileIsFatal(t *testing.T) {
	_, err := executeCommand(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "config", "show")
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfiguration, errors.GetCode(err))
}

func TestConfigInit_UDPFlagSelectsUDPOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neteye.yaml")
	_, err := executeCommand(t, "config", "init", path)
	require.NoError(t, err)

	flags := pflag.NewFlagSet("scan", pflag.ContinueOnError)
	flags.BoolP("tcp", "T", false, "")
	flags.BoolP("udp", "U", false, "")
	require.NoError(t, flags.Parse([]string{"-U"}))

	v := newTestViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	require.NoError(t, v.BindPFlag("scanning.tcp", flags.Lookup("tcp")))
	require.NoError(t, v.BindPFlag("scanning.udp", flags.Lookup("udp")))

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.False(t, cfg.Scanning.TCP, "generated file must not select TCP")
	assert.Equal(t, []scanning.Protocol{scanning.UDP},
		scanning.NormalizeProtocols(cfg.Scanning.TCP, cfg.Scanning.UDP))

	// Without any selection the scan still defaults to TCP.
	cfg, err = loadConfig(func() *viper.Viper {
		v := newTestViper()
		v.SetConfigFile(path)
		require.NoError(t, v.ReadInConfig())
		return v
	}())
	require.NoError(t, err)
	assert.Equal(t, []scanning.Protocol{scanning.TCP},
		scanning.NormalizeProtocols(cfg.Scanning.TCP, cfg.Scanning.UDP))
}
