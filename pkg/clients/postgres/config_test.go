package postgres

import (
	"strings"
	"testing"

	"github.com/akp/postbufferer/pkg/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Host != DefaultHost {
		t.Errorf("Host = %q, want %q", cfg.Host, DefaultHost)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.SSLMode != SSLModePrefer {
		t.Errorf("SSLMode = %q, want %q", cfg.SSLMode, SSLModePrefer)
	}
	if cfg.MaxConns != DefaultMaxConns {
		t.Errorf("MaxConns = %d, want %d", cfg.MaxConns, DefaultMaxConns)
	}
}

func TestConfig_Validate_Valid(t *testing.T) {
	cfg := &Config{
		Host:     "db.example.com",
		Database: "gateway",
		User:     "gateway",
		Password: config.Secret("hunter2"),
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port default not applied, got %d", cfg.Port)
	}
	if cfg.MaxConns != DefaultMaxConns {
		t.Errorf("MaxConns default not applied, got %d", cfg.MaxConns)
	}
}

func TestConfig_Validate_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "missing database", cfg: Config{User: "u"}, want: "database"},
		{name: "missing user", cfg: Config{Database: "d"}, want: "user"},
		{name: "bad port", cfg: Config{Database: "d", User: "u", Port: 70000}, want: "port"},
		{name: "bad ssl mode", cfg: Config{Database: "d", User: "u", SSLMode: "verify-maybe"}, want: "ssl_mode"},
		{name: "max below min", cfg: Config{Database: "d", User: "u", MaxConns: 1, MinConns: 5}, want: "min_conns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestConfig_Validate_URI(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		wantErr bool
	}{
		{name: "postgres scheme", uri: "postgres://u:p@localhost:5432/db?sslmode=disable"},
		{name: "postgresql scheme", uri: "postgresql://u:p@localhost:5432/db"},
		{name: "wrong scheme", uri: "mysql://localhost:3306/db", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{URI: tt.uri}
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Validate() error: %v", err)
			}
		})
	}
}

func TestConfig_Validate_URI_SkipsStructuredValidation(t *testing.T) {
	// Missing database/user is fine when a URI is set.
	cfg := &Config{URI: "postgres://u:p@localhost:5432/db"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}

func TestConfig_ConnectionString_Structured(t *testing.T) {
	cfg := &Config{
		Host:     "db.example.com",
		Port:     5433,
		Database: "gateway",
		User:     "svc",
		Password: config.Secret("p@ss word"),
		SSLMode:  SSLModeRequire,
	}
	got := cfg.ConnectionString()

	if !strings.HasPrefix(got, "postgres://") {
		t.Errorf("ConnectionString() = %q, want postgres:// prefix", got)
	}
	if !strings.Contains(got, "db.example.com:5433") {
		t.Errorf("ConnectionString() = %q, missing host:port", got)
	}
	if !strings.Contains(got, "sslmode=require") {
		t.Errorf("ConnectionString() = %q, missing sslmode", got)
	}
	// Special characters in the password must be escaped.
	if strings.Contains(got, "p@ss word") {
		t.Errorf("ConnectionString() = %q, password not escaped", got)
	}
}

func TestConfig_ConnectionString_URIPassthrough(t *testing.T) {
	uri := "postgres://u:p@localhost:5432/db?sslmode=disable"
	cfg := &Config{URI: uri}
	if got := cfg.ConnectionString(); got != uri {
		t.Errorf("ConnectionString() = %q, want %q", got, uri)
	}
}

func TestTruncateSQL(t *testing.T) {
	long := strings.Repeat("s", maxSQLTruncateLen+20)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "short", input: "SELECT 1", want: "SELECT 1"},
		{name: "exact", input: strings.Repeat("a", maxSQLTruncateLen), want: strings.Repeat("a", maxSQLTruncateLen)},
		{name: "long", input: long, want: long[:maxSQLTruncateLen] + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateSQL(tt.input); got != tt.want {
				t.Errorf("truncateSQL() = %q, want %q", got, tt.want)
			}
		})
	}
}
