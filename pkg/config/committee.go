package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/vaultbft/client/internal/committee"
	"github.com/vaultbft/client/internal/types"
	"github.com/vaultbft/client/pkg/authority"
)

// CommitteeManifest is the YAML shape of the committee file: one entry
// per authority naming its address, stake, ed25519 public key, and RPC
// endpoint. The env-var-substitution convention (${VAR_NAME} or
// ${VAR_NAME:-default}) is kept from the teacher's anchor config loader
// so endpoints can be templated per deployment without forking the
// manifest.
type CommitteeManifest struct {
	Environment string              `yaml:"environment"`
	Authorities []AuthorityManifest `yaml:"authorities"`
}

// AuthorityManifest describes one committee member.
type AuthorityManifest struct {
	Name      string `yaml:"name"`       // hex-encoded 20-byte address
	PublicKey string `yaml:"public_key"` // hex-encoded ed25519 public key
	Stake     uint64 `yaml:"stake"`
	Endpoint  string `yaml:"endpoint"`
}

// LoadCommittee reads a committee manifest, builds the stake-weighted
// Committee, the per-authority ed25519 public key table used by
// cryptoutil.VerifyCertificate, and an HTTP authority.Client per entry.
func LoadCommittee(path string) (*committee.Committee, map[types.Address]ed25519.PublicKey, []authority.Client, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config: reading committee manifest %s: %w", path, err)
	}

	var manifest CommitteeManifest
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), &manifest); err != nil {
		return nil, nil, nil, fmt.Errorf("config: parsing committee manifest %s: %w", path, err)
	}
	if len(manifest.Authorities) == 0 {
		return nil, nil, nil, fmt.Errorf("config: committee manifest %s names no authorities", path)
	}

	stakes := make(map[types.Address]uint64, len(manifest.Authorities))
	pubKeys := make(map[types.Address]ed25519.PublicKey, len(manifest.Authorities))
	var authorities []authority.Client

	for _, a := range manifest.Authorities {
		addr, err := parseAddress(a.Name)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("config: authority %q: %w", a.Name, err)
		}
		pub, err := parsePublicKey(a.PublicKey)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("config: authority %s: %w", a.Name, err)
		}
		if a.Stake == 0 {
			return nil, nil, nil, fmt.Errorf("config: authority %s has zero stake", a.Name)
		}
		if a.Endpoint == "" {
			return nil, nil, nil, fmt.Errorf("config: authority %s has no endpoint", a.Name)
		}

		stakes[addr] = a.Stake
		pubKeys[addr] = pub

		client, err := authority.NewHTTPClient(&authority.HTTPClientConfig{
			Name:     addr,
			Endpoint: a.Endpoint,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("config: building client for authority %s: %w", a.Name, err)
		}
		authorities = append(authorities, client)
	}

	c, err := committee.New(stakes)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config: building committee: %w", err)
	}
	return c, pubKeys, authorities, nil
}

func parseAddress(hexStr string) (types.Address, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return types.Address{}, fmt.Errorf("invalid address hex: %w", err)
	}
	if len(b) != len(types.Address{}) {
		return types.Address{}, fmt.Errorf("address must be %d bytes, got %d", len(types.Address{}), len(b))
	}
	var a types.Address
	copy(a[:], b)
	return a, nil
}

func parsePublicKey(hexStr string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return ed25519.PublicKey(b), nil
}

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// substituteEnvVars replaces ${VAR_NAME} references with environment
// variable values, falling back to the :- default when unset.
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}
