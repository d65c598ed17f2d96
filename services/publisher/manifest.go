package publisher

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const manifestFormat = "1"

// Manifest records exactly what was submitted for an artifact version.
type Manifest struct {
	Format           string          `yaml:"format"`
	CreatedAt        time.Time       `yaml:"created_at"`
	ProjectID        string          `yaml:"project_id"`
	VersionName      string          `yaml:"version_name"`
	EnvironmentName  string          `yaml:"environment_name"`
	CommitHash       string          `yaml:"commit_hash,omitempty"`
	Branch           string          `yaml:"branch,omitempty"`
	Signer           string          `yaml:"signer,omitempty"`
	SigningPublicKey string          `yaml:"signing_public_key,omitempty"`
	Signature        string          `yaml:"signature,omitempty"`
	Entries          []ManifestEntry `yaml:"entries"`
}

// signedBytes is the YAML encoding of every field except the signature.
func (m Manifest) signedBytes() ([]byte, error) {
	m.Signature = ""
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return data, nil
}

// ManifestEntry describes one archived upload entry.
type ManifestEntry struct {
	Key         string `yaml:"key"`
	Kind        string `yaml:"kind"`
	ContentType string `yaml:"content_type"`
	Size        int64  `yaml:"size"`
	SHA256      string `yaml:"sha256"`
}

func inferKind(key string) string {
	lower := strings.ToLower(key)
	switch {
	case strings.HasPrefix(lower, "connector-profile:"):
		return "connector-profile"
	case strings.HasSuffix(lower, ".orch.yaml"):
		return "orchestration"
	case strings.HasSuffix(lower, ".tran.yaml"):
		return "transformation"
	case strings.HasSuffix(lower, ".sql"):
		return "sql"
	case strings.HasSuffix(lower, ".py"):
		return "python"
	default:
		return "file"
	}
}
