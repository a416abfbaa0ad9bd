package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:              filepath.Join("data", "phrasebook.db"),
			Namespace:         "default",
			CompressThreshold: 1024,
		},
		Remote: RemoteConfig{
			Kind:         RemoteKindNone,
			PollInterval: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     3306,
			Database: "local",
			Username: "user",
		},
		Sync: SyncConfig{
			Debounce:         500 * time.Millisecond,
			ErrorThrottle:    5 * time.Second,
			RetryMaxAttempts: 5,
		},
		Scheduler: SchedulerConfig{
			ProbeInterval: 30 * time.Second,
			PurgeAt:       "03:00",
			TombstoneTTL:  30 * 24 * time.Hour,
		},
		OpenAI: OpenAIConfig{
			Model:         "gpt-4o-mini",
			RetryAttempts: 3,
		},
		Server: ServerConfig{
			Port:  8080,
			Store: "memory",
			CORS: CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		},
	}
}

func TestConfigLoader_Load(t *testing.T) {
	tests := []struct {
		name              string
		configContent     string
		useExplicitPath   bool
		env               map[string]string
		wantErr           bool
		want              func() *Config
		wantErrorContains []string
	}{
		{
			name:          "no config file uses defaults",
			configContent: "",
			want:          defaultConfig,
		},
		{
			name: "custom values",
			configContent: `storage:
  path: /tmp/phrasebook.db
  namespace: alice
remote:
  kind: connect
  url: https://sync.example.com
  user_id: user-1
  device_id: laptop
sync:
  debounce: 2s
scheduler:
  purge_at: "04:30"
`,
			want: func() *Config {
				cfg := defaultConfig()
				cfg.Storage.Path = "/tmp/phrasebook.db"
				cfg.Storage.Namespace = "alice"
				cfg.Remote.Kind = RemoteKindConnect
				cfg.Remote.URL = "https://sync.example.com"
				cfg.Remote.UserID = "user-1"
				cfg.Remote.DeviceID = "laptop"
				cfg.Sync.Debounce = 2 * time.Second
				cfg.Scheduler.PurgeAt = "04:30"
				return cfg
			},
		},
		{
			name:            "explicit config file path with env secrets",
			useExplicitPath: true,
			configContent: `remote:
  kind: mysql
`,
			env: map[string]string{
				"OPENAI_API_KEY":     "sk-test",
				"DB_PASSWORD":        "secret",
				"PHRASEBOOK_USER_ID": "env-user",
			},
			want: func() *Config {
				cfg := defaultConfig()
				cfg.Remote.Kind = RemoteKindMySQL
				cfg.Remote.UserID = "env-user"
				cfg.OpenAI.APIKey = "sk-test"
				cfg.Database.Password = "secret"
				return cfg
			},
		},
		{
			name: "invalid YAML format",
			configContent: `storage:
  path: custom
  invalid yaml format here [[[
`,
			wantErr: true,
			wantErrorContains: []string{
				"configuration file found but could not be read",
				"Please check the file format and permissions",
			},
		},
		{
			name: "unknown remote kind",
			configContent: `remote:
  kind: firebase
`,
			wantErr:           true,
			wantErrorContains: []string{"invalid configuration", "kind"},
		},
		{
			name: "connect remote without url",
			configContent: `remote:
  kind: connect
`,
			wantErr:           true,
			wantErrorContains: []string{"invalid configuration", "url"},
		},
		{
			name: "invalid purge time",
			configContent: `scheduler:
  purge_at: "25:99"
`,
			wantErr:           true,
			wantErrorContains: []string{"scheduler.purge_at must be a time of day in HH:MM format"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"OPENAI_API_KEY", "OPENAI_MODEL", "DB_PASSWORD", "PHRASEBOOK_USER_ID"} {
				t.Setenv(key, tt.env[key])
			}
			tempDir := t.TempDir()

			var configPath string
			if tt.useExplicitPath {
				configPath = filepath.Join(tempDir, "phrasebook.yml")
				require.NoError(t, os.WriteFile(configPath, []byte(tt.configContent), 0644))
			} else {
				if tt.configContent != "" {
					require.NoError(t, os.WriteFile(filepath.Join(tempDir, "config.yaml"), []byte(tt.configContent), 0644))
				}
				t.Chdir(tempDir)
			}

			loader, err := NewConfigLoader(configPath)
			require.NoError(t, err)
			got, err := loader.Load()

			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, got)
				for _, wantMsg := range tt.wantErrorContains {
					assert.Contains(t, err.Error(), wantMsg)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want(), got)
		})
	}
}

func TestRemoteConfig_Enabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  RemoteConfig
		want bool
	}{
		{name: "none", cfg: RemoteConfig{Kind: RemoteKindNone, UserID: "u"}, want: false},
		{name: "no user", cfg: RemoteConfig{Kind: RemoteKindConnect}, want: false},
		{name: "enabled", cfg: RemoteConfig{Kind: RemoteKindMySQL, UserID: "u"}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Enabled())
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PHRASEBOOK_TEST_VALUE=from-dotenv\n"), 0644))
	t.Setenv("PHRASEBOOK_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("PHRASEBOOK_TEST_VALUE"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), envFile))
	assert.Equal(t, "from-dotenv", os.Getenv("PHRASEBOOK_TEST_VALUE"))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}
