package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, names [2]string, pubs [2]string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "committee.yaml")
	content := `
environment: test
authorities:
  - name: "` + names[0] + `"
    public_key: "` + pubs[0] + `"
    stake: 10
    endpoint: "http://${AUTH_ONE_HOST:-localhost:9001}"
  - name: "` + names[1] + `"
    public_key: "` + pubs[1] + `"
    stake: 10
    endpoint: "http://localhost:9002"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func genKeyPair(t *testing.T) (string, string) {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var addr [20]byte
	copy(addr[:], pub[:20])
	return hex.EncodeToString(addr[:]), hex.EncodeToString(pub)
}

func TestLoadCommittee_ParsesManifestAndSubstitutesEnv(t *testing.T) {
	name1, pub1 := genKeyPair(t)
	name2, pub2 := genKeyPair(t)
	path := writeManifest(t, [2]string{name1, name2}, [2]string{pub1, pub2})

	t.Setenv("AUTH_ONE_HOST", "")

	c, pubKeys, authorities, err := LoadCommittee(path)
	if err != nil {
		t.Fatalf("LoadCommittee: %v", err)
	}
	if len(c.Members()) != 2 {
		t.Fatalf("expected 2 members, got %d", len(c.Members()))
	}
	if len(pubKeys) != 2 {
		t.Fatalf("expected 2 public keys, got %d", len(pubKeys))
	}
	if len(authorities) != 2 {
		t.Fatalf("expected 2 authority clients, got %d", len(authorities))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if substituted := substituteEnvVars(string(data)); !strings.Contains(substituted, "http://localhost:9001") {
		t.Fatalf("expected the :- default substituted for an empty AUTH_ONE_HOST, got %q", substituted)
	}
}

func TestLoadCommittee_EnvVarOverridesDefault(t *testing.T) {
	name1, pub1 := genKeyPair(t)
	name2, pub2 := genKeyPair(t)
	path := writeManifest(t, [2]string{name1, name2}, [2]string{pub1, pub2})

	t.Setenv("AUTH_ONE_HOST", "override:9999")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	substituted := substituteEnvVars(string(data))
	if !strings.Contains(substituted, "override:9999") {
		t.Fatalf("expected env override applied, got %q", substituted)
	}
}

func TestLoadCommittee_RejectsEmptyAuthorities(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(path, []byte("environment: test\nauthorities: []\n"), 0600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if _, _, _, err := LoadCommittee(path); err == nil {
		t.Fatal("expected an error for a manifest naming no authorities")
	}
}

func TestLoadCommittee_RejectsBadPublicKeyLength(t *testing.T) {
	name1, _ := genKeyPair(t)
	name2, pub2 := genKeyPair(t)
	path := writeManifest(t, [2]string{name1, name2}, [2]string{"aabb", pub2})

	if _, _, _, err := LoadCommittee(path); err == nil {
		t.Fatal("expected an error for a truncated public key")
	}
}
