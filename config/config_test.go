package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/maintenance-engine/config"
	"github.com/warp/maintenance-engine/schedule"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := config.FromEnv(envMap(nil))

	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, schedule.DefaultRunHour, cfg.RunHour)
	assert.Equal(t, config.LedgerSQLite, cfg.LedgerBackend)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := config.FromEnv(envMap(map[string]string{
		"PORT":            "9000",
		"TZ":              "America/Santiago",
		"RUN_HOUR":        "5",
		"LEDGER_BACKEND":  "Redis",
		"REDIS_DB":        "2",
		"OPERATOR_TOKEN":  "s3cret",
		"ALLOWED_ORIGINS": "https://cmms.example.com, https://ops.example.com",
	}))

	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 5, cfg.RunHour)
	assert.Equal(t, config.LedgerRedis, cfg.LedgerBackend)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "s3cret", cfg.OperatorToken)
	assert.Equal(t, []string{"https://cmms.example.com", "https://ops.example.com"}, cfg.AllowedOrigins)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Santiago", loc.String())
}

func TestFromEnv_RejectsBadValues(t *testing.T) {
	for name, env := range map[string]map[string]string{
		"run hour range": {"RUN_HOUR": "24"},
		"run hour text":  {"RUN_HOUR": "six"},
		"backend":        {"LEDGER_BACKEND": "etcd"},
		"timezone":       {"TZ": "Mars/Olympus"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := config.FromEnv(envMap(env))
			assert.Error(t, err)
		})
	}
}

func TestLoad_ReadsDotEnvWithoutOverridingEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("KAFKA_TOPIC=from-file\nKAFKA_BROKERS=kafka:9092\n"), 0o600))
	t.Setenv("KAFKA_TOPIC", "from-env")
	t.Setenv("KAFKA_BROKERS", "")
	require.NoError(t, os.Unsetenv("KAFKA_BROKERS"))

	cfg, err := config.Load(path)

	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.KafkaTopic)
	assert.Equal(t, "kafka:9092", cfg.KafkaBrokers)
}

func TestLoad_MissingFileIsIgnored(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestCalendarFile(t *testing.T) {
	cf, err := config.ParseCalendar([]byte(`
locale: es-CL
weekend: [sábado, domingo]
holidays:
  - name: Año Nuevo
    date: "01-01"
  - name: Viernes Santo
    date: "2025-04-18"
`))
	require.NoError(t, err)

	cal, err := cf.Calendar([]schedule.Holiday{
		{Name: "Fiestas Patrias", Date: time.Date(2025, time.September, 18, 0, 0, 0, 0, time.UTC), Recurring: true},
	})
	require.NoError(t, err)

	assert.Equal(t, "es-CL", cal.Locale)
	assert.False(t, cal.IsWorkingDay(time.Date(2030, time.January, 1, 6, 0, 0, 0, time.UTC)))
	assert.False(t, cal.IsWorkingDay(time.Date(2025, time.April, 18, 6, 0, 0, 0, time.UTC)))
	assert.False(t, cal.IsWorkingDay(time.Date(2026, time.September, 18, 6, 0, 0, 0, time.UTC)))
	assert.True(t, cal.IsWorkingDay(time.Date(2025, time.April, 17, 6, 0, 0, 0, time.UTC)))
}

func TestCalendarFile_RejectsBadEntries(t *testing.T) {
	cf, err := config.ParseCalendar([]byte("holidays:\n  - name: x\n    date: 18/09\n"))
	require.NoError(t, err)
	_, err = cf.Calendar(nil)
	assert.Error(t, err)

	cf, err = config.ParseCalendar([]byte("weekend: [caturday]\n"))
	require.NoError(t, err)
	_, err = cf.Calendar(nil)
	assert.Error(t, err)
}
