package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const baseConfig = `
environment: dev
node:
  id: node-a
gossip:
  signing:
    mode: hmac
    key: test-secret
transport:
  type: redis
  redis:
    addr: localhost:6379
`

func TestLoadValid(t *testing.T) {
	c, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Node.ID != "node-a" || c.Gossip.Signing.Key != "test-secret" {
		t.Fatalf("unexpected config: %+v", c)
	}
	// Defaults applied.
	if c.Server.Port != 8080 || c.Store.Capacity != 4096 || c.Metrics.Path != "/metrics" {
		t.Fatalf("defaults not applied: %+v", c)
	}
}

// Signing misconfiguration must fail at load time, never degrade to
// unsigned gossip.
func TestLoadHMACWithoutKeyFails(t *testing.T) {
	body := strings.Replace(baseConfig, "    key: test-secret\n", "", 1)
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error for hmac mode without key")
	}
}

func TestLoadExplicitlyUnsigned(t *testing.T) {
	body := strings.Replace(baseConfig, "mode: hmac", "mode: none", 1)
	body = strings.Replace(body, "    key: test-secret\n", "", 1)
	c, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Gossip.Signing.Mode != SigningNone {
		t.Fatalf("mode: %q", c.Gossip.Signing.Mode)
	}
}

func TestLoadMissingNodeID(t *testing.T) {
	body := strings.Replace(baseConfig, "  id: node-a\n", "  id: \"\"\n", 1)
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error for missing node id")
	}
}

func TestLoadTransportValidation(t *testing.T) {
	body := strings.Replace(baseConfig, "type: redis", "type: kafka", 1)
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error for kafka transport without brokers")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("PRICEMESH_NODE_ID", "node-env")
	t.Setenv("REDIS_ADDR", "redis-prod:6379")

	c, err := LoadWithEnv(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Node.ID != "node-env" {
		t.Fatalf("env override missed: %q", c.Node.ID)
	}
	if c.Transport.Redis.Addr != "redis-prod:6379" {
		t.Fatalf("env override missed: %q", c.Transport.Redis.Addr)
	}
}
