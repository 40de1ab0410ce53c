package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

const (
	secretA = "0123456789abcdef0123456789abcdef:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"
	secretB = "fedcba9876543210fedcba9876543210:YW5vdGhlcnNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"
	// same id as secretA, different material
	secretAClash = "0123456789abcdef0123456789abcdef:YW5vdGhlcnNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"
)

func clearSecrets(t *testing.T) {
	t.Helper()
	for _, k := range []string{"SEGMENTD_HMAC_SECRET", "SEGMENTD_HMAC_SECRET_1", "SEGMENTD_HMAC_SECRET_2", "SEGMENTD_HMAC_SECRET_3"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segmentd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v, want nil", err)
	}
	return path
}

func TestHMACSecrets(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantIDs []string
		wantErr bool
	}{
		{
			name:    "none configured",
			wantIDs: nil,
		},
		{
			name:    "single secret",
			env:     map[string]string{"SEGMENTD_HMAC_SECRET": secretA},
			wantIDs: []string{"0123456789abcdef0123456789abcdef"},
		},
		{
			name: "numbered rotation set",
			env: map[string]string{
				"SEGMENTD_HMAC_SECRET_1": secretA,
				"SEGMENTD_HMAC_SECRET_2": secretB,
			},
			wantIDs: []string{"0123456789abcdef0123456789abcdef", "fedcba9876543210fedcba9876543210"},
		},
		{
			name: "numbering stops at first gap",
			env: map[string]string{
				"SEGMENTD_HMAC_SECRET_1": secretA,
				"SEGMENTD_HMAC_SECRET_3": secretB,
			},
			wantIDs: []string{"0123456789abcdef0123456789abcdef"},
		},
		{
			name:    "invalid format",
			env:     map[string]string{"SEGMENTD_HMAC_SECRET": "invalid_format"},
			wantErr: true,
		},
		{
			name:    "short secret id",
			env:     map[string]string{"SEGMENTD_HMAC_SECRET": "short:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"},
			wantErr: true,
		},
		{
			name: "duplicate id in numbered secrets",
			env: map[string]string{
				"SEGMENTD_HMAC_SECRET_1": secretA,
				"SEGMENTD_HMAC_SECRET_2": secretAClash,
			},
			wantErr: true,
		},
		{
			name: "duplicate id between single and numbered",
			env: map[string]string{
				"SEGMENTD_HMAC_SECRET":   secretA,
				"SEGMENTD_HMAC_SECRET_1": secretAClash,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearSecrets(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			secrets, err := HMACSecrets()
			if tt.wantErr {
				if err == nil {
					t.Fatal("HMACSecrets() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("HMACSecrets() error = %v, want nil", err)
			}
			if len(secrets) != len(tt.wantIDs) {
				t.Fatalf("HMACSecrets() returned %d secrets, want %d", len(secrets), len(tt.wantIDs))
			}
			for _, id := range tt.wantIDs {
				if _, ok := secrets[id]; !ok {
					t.Errorf("secret %s missing", id)
				}
			}
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v, want nil", err)
	}
	want := DefaultServiceConfig()
	if *cfg != *want {
		t.Errorf("LoadConfig() = %+v, want %+v", *cfg, *want)
	}
	if cfg.Addr() != "0.0.0.0:50061" {
		t.Errorf("Addr() = %q, want 0.0.0.0:50061", cfg.Addr())
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := writeConfig(t, `service:
  port: 9090
  max_conditions: 10
  request_timeout: 5s
`)

	t.Run("file over defaults", func(t *testing.T) {
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig() error = %v, want nil", err)
		}
		if cfg.Port != 9090 || cfg.MaxConditions != 10 || cfg.RequestTimeout != 5*time.Second {
			t.Errorf("LoadConfig() = %+v, want file values", *cfg)
		}
		if cfg.RecalcConcurrency != 4 {
			t.Errorf("RecalcConcurrency = %d, want default 4", cfg.RecalcConcurrency)
		}
	})

	t.Run("environment over file", func(t *testing.T) {
		t.Setenv("SEGMENTD_SERVICE_PORT", "8080")
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig() error = %v, want nil", err)
		}
		if cfg.Port != 8080 {
			t.Errorf("Port = %d, want 8080", cfg.Port)
		}
	})

	t.Run("changed flag over environment", func(t *testing.T) {
		t.Setenv("SEGMENTD_SERVICE_PORT", "8080")
		flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
		flags.Int("port", 50061, "")
		flags.String("host", "0.0.0.0", "")
		if err := flags.Parse([]string{"--port", "7070"}); err != nil {
			t.Fatalf("Parse() error = %v, want nil", err)
		}

		cfg, err := LoadConfigWithFlags(path, flags)
		if err != nil {
			t.Fatalf("LoadConfigWithFlags() error = %v, want nil", err)
		}
		if cfg.Port != 7070 {
			t.Errorf("Port = %d, want 7070", cfg.Port)
		}
		// unchanged flags do not shadow lower layers
		if cfg.Host != "0.0.0.0" {
			t.Errorf("Host = %q, want 0.0.0.0", cfg.Host)
		}
		if cfg.MaxConditions != 10 {
			t.Errorf("MaxConditions = %d, want 10 from file", cfg.MaxConditions)
		}
	})
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"port too large", "SEGMENTD_SERVICE_PORT", "70000"},
		{"zero timeout", "SEGMENTD_SERVICE_REQUEST_TIMEOUT", "0s"},
		{"negative max conditions", "SEGMENTD_SERVICE_MAX_CONDITIONS", "-1"},
		{"zero recalc concurrency", "SEGMENTD_SERVICE_RECALC_CONCURRENCY", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := LoadConfig(""); err == nil {
				t.Errorf("LoadConfig() with %s=%s error = nil, want error", tt.key, tt.val)
			}
		})
	}
}

func TestLoadConfig_RejectsSecretsInFile(t *testing.T) {
	for _, content := range []string{
		"hmac_secret: \"should_be_rejected\"\n",
		"service:\n  port: 8080\n  hmac_secret: \"should_be_rejected\"\n",
	} {
		_, err := LoadConfig(writeConfig(t, content))
		if err == nil {
			t.Fatalf("LoadConfig() error = nil, want secret rejection for %q", content)
		}
		if !strings.Contains(err.Error(), "SEGMENTD_HMAC_SECRET") {
			t.Errorf("LoadConfig() error = %v, want mention of SEGMENTD_HMAC_SECRET", err)
		}
	}
}

func TestLoadConfig_EnvSecretAllowed(t *testing.T) {
	t.Setenv("SEGMENTD_HMAC_SECRET", secretA)
	if _, err := LoadConfig(""); err != nil {
		t.Errorf("LoadConfig() with env secret error = %v, want nil", err)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadConfig(absent) error = nil, want error")
	}
}

func TestParseHMACSecret(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"valid base64", "dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w", false},
		{"surrounding whitespace", "  dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w\n", false},
		{"invalid base64", "not-valid-base64!!!", true},
		{"too short", "c2hvcnQ=", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secret, err := ParseHMACSecret(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Error("ParseHMACSecret() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseHMACSecret() error = %v, want nil", err)
			}
			if len(secret) < 32 {
				t.Errorf("len(secret) = %d, want >= 32", len(secret))
			}
		})
	}
}

func TestParseHMACSecretWithID(t *testing.T) {
	id, secret, err := ParseHMACSecretWithID(secretA)
	if err != nil {
		t.Fatalf("ParseHMACSecretWithID() error = %v, want nil", err)
	}
	if id != "0123456789abcdef0123456789abcdef" {
		t.Errorf("secret_id = %q", id)
	}
	if string(secret) != "testsecret1234567890abcdefghijklmnop" {
		t.Errorf("secret = %q", secret)
	}

	for _, bad := range []string{
		"0123456789abcdef0123456789abcdef",
		"tooshort:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w",
		"0123456789abcdefGHIJKLMNOPQRSTUV:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w",
		"0123456789ABCDEF0123456789ABCDEF:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w",
		"0123456789abcdef0123456789abcdef:c2hvcnQ=",
	} {
		if _, _, err := ParseHMACSecretWithID(bad); err == nil {
			t.Errorf("ParseHMACSecretWithID(%q) error = nil, want error", bad)
		}
	}
}
