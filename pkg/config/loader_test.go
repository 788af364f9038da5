package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerr "github.com/akp/postbufferer/pkg/errors"
)

type testConfig struct {
	Host    string        `env:"HOST" envDefault:"localhost" yaml:"host"`
	Port    int           `env:"PORT" envDefault:"8080" yaml:"port"`
	Debug   bool          `env:"DEBUG" envDefault:"false" yaml:"debug"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s" yaml:"timeout"`
	Scopes  []string      `env:"SCOPES" yaml:"scopes"`
	Secret  string        `env:"SECRET" yaml:"secret" required:"true"`
}

type nestedConfig struct {
	Name  string `env:"NAME" envDefault:"gateway" yaml:"name"`
	Redis struct {
		Host string `env:"HOST" envDefault:"localhost" yaml:"host"`
		Port int    `env:"PORT" envDefault:"6379" yaml:"port"`
	} `env:"REDIS" yaml:"redis"`
}

func TestLoadDefaults(t *testing.T) {
	var cfg testConfig
	t.Setenv("SECRET", "hunter2")

	err := New().Load(&cfg)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.Debug)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("HOST", "gateway.internal")
	t.Setenv("PORT", "9090")
	t.Setenv("DEBUG", "true")
	t.Setenv("TIMEOUT", "5s")
	t.Setenv("SCOPES", "email, public_profile")
	t.Setenv("SECRET", "hunter2")

	var cfg testConfig
	err := New().Load(&cfg)
	require.NoError(t, err)

	assert.Equal(t, "gateway.internal", cfg.Host)
	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"email", "public_profile"}, cfg.Scopes)
}

func TestLoadEnvPrefix(t *testing.T) {
	t.Setenv("GW_HOST", "prefixed.internal")
	t.Setenv("GW_SECRET", "hunter2")

	var cfg testConfig
	err := New().WithEnvPrefix("gw").Load(&cfg)
	require.NoError(t, err)

	assert.Equal(t, "prefixed.internal", cfg.Host)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "host: from-file\nport: 7070\nsecret: file-secret\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	var cfg testConfig
	err := New().WithFile(path).Load(&cfg)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Host)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "file-secret", cfg.Secret)
}

func TestLoadEnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: from-file\nsecret: s\n"), 0o600))

	t.Setenv("HOST", "from-env")

	var cfg testConfig
	err := New().WithFile(path).Load(&cfg)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Host)
}

func TestLoadMissingFileIgnored(t *testing.T) {
	t.Setenv("SECRET", "hunter2")

	var cfg testConfig
	err := New().WithFile(filepath.Join(t.TempDir(), "absent.yaml")).Load(&cfg)
	assert.NoError(t, err)
}

func TestLoadRejectsTraversal(t *testing.T) {
	var cfg testConfig
	err := New().WithFile("../../etc/passwd.yaml").Load(&cfg)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeInternalConfiguration))
}

func TestLoadRequiredMissing(t *testing.T) {
	var cfg testConfig
	err := New().Load(&cfg)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeValidationRequired))
	assert.Contains(t, err.Error(), "Secret")
}

func TestLoadNestedStructs(t *testing.T) {
	t.Setenv("REDIS_HOST", "redis.internal")

	var cfg nestedConfig
	err := New().Load(&cfg)
	require.NoError(t, err)

	assert.Equal(t, "gateway", cfg.Name)
	assert.Equal(t, "redis.internal", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port)
}

func TestLoadInvalidTarget(t *testing.T) {
	err := New().Load(nil)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeInternalConfiguration))

	var notStruct int
	err = New().Load(&notStruct)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeInternalConfiguration))
}

func TestLoadBadEnvValue(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("SECRET", "hunter2")

	var cfg testConfig
	err := New().Load(&cfg)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeInternalConfiguration))
}

type validatingConfig struct {
	Port int `env:"PORT" envDefault:"8080" yaml:"port"`
}

func (c *validatingConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return gwerr.Newf(gwerr.CodeValidation, "config: port %d out of range", c.Port)
	}
	return nil
}

func TestLoadCustomValidator(t *testing.T) {
	t.Setenv("PORT", "70000")

	var cfg validatingConfig
	err := New().Load(&cfg)
	require.Error(t, err)
	assert.True(t, gwerr.HasCode(err, gwerr.CodeValidation))
}

func TestMustLoadPanicsOnError(t *testing.T) {
	assert.Panics(t, func() {
		_ = MustLoad[testConfig](New()) // Secret is required and unset.
	})
}
