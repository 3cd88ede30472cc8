package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
source:
  host: ftp.example.local
  username: cu
database:
  dsn: "host=db user=u dbname=logs"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ftp", cfg.Source.Kind)
	assert.Equal(t, 21, cfg.Source.Port)
	assert.Equal(t, "/", cfg.Source.Root)
	assert.Equal(t, ".LOG", cfg.Source.FileSuffix)
	assert.Equal(t, 30*time.Second, cfg.Source.Timeout)
	assert.Equal(t, DefaultDirectories(), cfg.Source.Directories)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "08:00", cfg.Schedule.DailyAt)
	require.NotNil(t, cfg.Schedule.RunOnStart)
	assert.True(t, *cfg.Schedule.RunOnStart)
	assert.Equal(t, 1, cfg.Ingest.Workers)
	assert.Equal(t, "UTC", cfg.Ingest.LogTimezone)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Status.Enabled)
}

func TestLoad_EnvOverridesSecrets(t *testing.T) {
	t.Setenv("SOURCE_PASSWORD", "from-env")
	t.Setenv("DATABASE_DSN", "file::memory:")
	path := writeConfig(t, `
source:
  host: ftp.example.local
  password: from-file
database:
  driver: sqlite
  dsn: ignored
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Source.Password)
	assert.Equal(t, "file::memory:", cfg.Database.DSN)
}

func TestLoad_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{
			name: "ftp without host",
			body: "database:\n  dsn: x\n",
		},
		{
			name: "unknown source kind",
			body: "source:\n  kind: s3\ndatabase:\n  dsn: x\n",
		},
		{
			name: "unknown driver",
			body: "source:\n  kind: local\n  root: /tmp\ndatabase:\n  driver: oracle\n  dsn: x\n",
		},
		{
			name: "missing dsn",
			body: "source:\n  kind: local\n  root: /tmp\n",
		},
		{
			name: "bad daily time",
			body: "source:\n  kind: local\ndatabase:\n  dsn: x\nschedule:\n  daily_at: \"25:99\"\n",
		},
		{
			name: "duplicate directory",
			body: "source:\n  kind: local\n  directories:\n    - {name: A, machine_type: PVC}\n    - {name: A, machine_type: ALU}\ndatabase:\n  dsn: x\n",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock(" 07:45 ")
	require.NoError(t, err)
	assert.Equal(t, 7, h)
	assert.Equal(t, 45, m)

	_, _, err = ParseClock("7h45")
	assert.Error(t, err)
}

func TestDefaultDirectories(t *testing.T) {
	assert.Equal(t, []Directory{
		{Name: "DEM12 (PVC)", MachineType: "PVC"},
		{Name: "DEMALU (ALU)", MachineType: "ALU"},
		{Name: "SU12 (HYBRIDE)", MachineType: "HYBRIDE"},
	}, DefaultDirectories())
}
