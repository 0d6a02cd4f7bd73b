package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"TELEGRAM_TOKEN", "CHAT_ID", "MONITOR_URL", "MONITOR_TIMEZONE", "TARGET_PRICE",
	"STATE_FILE", "STORAGE_TYPE", "USE_PROXY", "LOG_LEVEL",
}

func setEnv(t *testing.T, values map[string]string) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, values[key])
	}
}

func credentials() map[string]string {
	return map[string]string{"TELEGRAM_TOKEN": "123:abc", "CHAT_ID": "42"}
}

func TestLoad_DefaultsAndEnvironment(t *testing.T) {
	env := credentials()
	env["TARGET_PRICE"] = "175.5"
	env["USE_PROXY"] = "true"
	env["STATE_FILE"] = "/var/lib/monitor/state.json"
	setEnv(t, env)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, "42", cfg.Telegram.ChatID)
	assert.Equal(t, 175.5, cfg.Monitor.TargetPrice)
	assert.True(t, cfg.Proxy.Enabled)
	assert.Equal(t, "/var/lib/monitor/state.json", cfg.Storage.Path)

	assert.Equal(t, "BYN", cfg.Monitor.Currency)
	assert.Equal(t, "Europe/Minsk", cfg.Location().String())
	assert.Equal(t, 10, cfg.Proxy.MaxProbes)
	assert.Equal(t, 300, cfg.Proxy.CooldownSeconds)
	assert.Equal(t, 3600, cfg.Proxy.CacheTTLSeconds)
}

func TestLoad_FileMergesOverDefaults(t *testing.T) {
	setEnv(t, map[string]string{"CHAT_ID": "from-env"})

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"telegram": {"token": "file-token", "chat_id": "file-chat"},
		"monitor": {"target_price": 150, "report_start": "09:00", "report_end": "09:05"},
		"storage": {"type": "sqlite", "path": "/tmp/monitor.db"}
	}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file-token", cfg.Telegram.Token)
	assert.Equal(t, "from-env", cfg.Telegram.ChatID, "environment wins over the file")
	assert.Equal(t, 150.0, cfg.Monitor.TargetPrice)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "https://api.telegram.org", cfg.Telegram.BaseURL, "unset fields keep defaults")

	start, end := cfg.ReportWindow()
	assert.Equal(t, 9*time.Hour, start)
	assert.Equal(t, 9*time.Hour+5*time.Minute, end)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		file     string
		contains string
	}{
		{
			name:     "missing token",
			env:      map[string]string{"CHAT_ID": "42"},
			contains: "telegram token is required",
		},
		{
			name:     "missing chat id",
			env:      map[string]string{"TELEGRAM_TOKEN": "123:abc"},
			contains: "telegram chat id is required",
		},
		{
			name:     "bad target price",
			env:      map[string]string{"TELEGRAM_TOKEN": "123:abc", "CHAT_ID": "42", "TARGET_PRICE": "cheap"},
			contains: "invalid TARGET_PRICE",
		},
		{
			name:     "unknown timezone",
			env:      map[string]string{"TELEGRAM_TOKEN": "123:abc", "CHAT_ID": "42", "MONITOR_TIMEZONE": "Nowhere/City"},
			contains: "unknown timezone",
		},
		{
			name:     "unknown storage",
			env:      map[string]string{"TELEGRAM_TOKEN": "123:abc", "CHAT_ID": "42", "STORAGE_TYPE": "postgres"},
			contains: "storage type must be",
		},
		{
			name:     "window ends before it starts",
			env:      credentials(),
			file:     `{"monitor": {"report_start": "11:00", "report_end": "10:00"}}`,
			contains: "report_end must not be before report_start",
		},
		{
			name:     "malformed file",
			env:      credentials(),
			file:     `{"monitor": `,
			contains: "failed to parse config file",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			setEnv(t, test.env)

			path := filepath.Join(t.TempDir(), "config.json")
			if test.file != "" {
				require.NoError(t, os.WriteFile(path, []byte(test.file), 0644))
			}

			cfg, err := Load(path)

			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), test.contains)
		})
	}
}

func TestValidate_Cooldown(t *testing.T) {
	cfg := Default()
	cfg.Telegram.Token = "123:abc"
	cfg.Telegram.ChatID = "42"
	require.NoError(t, cfg.Validate())

	for _, cooldown := range []int{0, -5} {
		cfg.Proxy.CooldownSeconds = cooldown
		assert.EqualError(t, cfg.Validate(), "cooldown_seconds must be at least 1")
	}
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("10:25")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Hour+25*time.Minute, d)

	d, err = ParseClock(" 00:00 ")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), d)

	d, err = ParseClock("23:59")
	require.NoError(t, err)
	assert.Equal(t, 23*time.Hour+59*time.Minute, d)

	for _, bad := range []string{"", "10", "24:00", "10:60", "ten:25", "10:25:00", "10:5"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}
