package publisher

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"filippo.io/age"
	"github.com/btcsuite/btcutil/bech32"
)

const (
	EnvAgeSecretKey = "AGE_SECRET_KEY"
	EnvAgePublicKey = "AGE_PUBLIC_KEY"
)

// ErrNoSigningKey means neither AGE_SECRET_KEY nor AGE_PUBLIC_KEY is set.
var ErrNoSigningKey = errors.New("no signing key configured")

// ManifestKey is the Ed25519 key archive manifests are signed and checked
// with. The private half is derived from the seed of an age X25519 identity,
// so one AGE_SECRET_KEY serves both age and manifest signing.
type ManifestKey struct {
	private   ed25519.PrivateKey
	public    ed25519.PublicKey
	recipient string
}

// LoadManifestKey reads AGE_SECRET_KEY and AGE_PUBLIC_KEY through getenv.
// With only the public key the result can check manifests but not sign them.
func LoadManifestKey(getenv func(string) string) (*ManifestKey, error) {
	secret := strings.TrimSpace(getenv(EnvAgeSecretKey))
	public := strings.TrimSpace(getenv(EnvAgePublicKey))
	if secret == "" && public == "" {
		return nil, ErrNoSigningKey
	}

	key := &ManifestKey{}
	if secret != "" {
		identity, err := age.ParseX25519Identity(secret)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", EnvAgeSecretKey, err)
		}
		seed, err := identitySeed(identity)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", EnvAgeSecretKey, err)
		}
		key.private = ed25519.NewKeyFromSeed(seed)
		key.public = key.private.Public().(ed25519.PublicKey)
		key.recipient = identity.Recipient().String()
	}
	if public != "" {
		pub, err := parsePublicKey(public)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", EnvAgePublicKey, err)
		}
		if key.public != nil && !key.public.Equal(pub) {
			return nil, fmt.Errorf("%s does not belong to %s", EnvAgePublicKey, EnvAgeSecretKey)
		}
		key.public = pub
	}
	return key, nil
}

// CanSign reports whether the private half is loaded.
func (k *ManifestKey) CanSign() bool {
	return k != nil && k.private != nil
}

// PublicKey is the base64 public key recorded in signed manifests.
func (k *ManifestKey) PublicKey() string {
	if k == nil || k.public == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(k.public)
}

// identitySeed recovers the 32-byte scalar behind an age identity string.
func identitySeed(identity *age.X25519Identity) ([]byte, error) {
	_, data, err := bech32.Decode(strings.ToLower(identity.String()))
	if err != nil {
		return nil, err
	}
	seed, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity is %d bytes", len(seed))
	}
	return seed, nil
}

func parsePublicKey(raw string) (ed25519.PublicKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key is %d bytes, want %d", len(decoded), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(decoded), nil
}

// Sign records key as the manifest's signer and signs every other field.
func (m *Manifest) Sign(key *ManifestKey) error {
	if !key.CanSign() {
		return errors.New("manifest key has no private half")
	}
	m.Signer = key.recipient
	m.SigningPublicKey = key.PublicKey()
	m.Signature = ""
	payload, err := m.signedBytes()
	if err != nil {
		return err
	}
	m.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(key.private, payload))
	return nil
}

// VerifySignature checks the manifest signature. A non-nil trusted key must
// match the key embedded in the manifest; with a nil trusted key the embedded
// key alone is used, which proves integrity but not origin.
func (m *Manifest) VerifySignature(trusted *ManifestKey) error {
	if m.Signature == "" {
		if trusted != nil {
			return errors.New("manifest is not signed")
		}
		return nil
	}
	sig, err := base64.StdEncoding.DecodeString(m.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return errors.New("malformed manifest signature")
	}

	pub, err := parsePublicKey(m.SigningPublicKey)
	if err != nil {
		return fmt.Errorf("manifest public key: %w", err)
	}
	if trusted != nil && !bytes.Equal(trusted.public, pub) {
		return errors.New("manifest signed by an untrusted key")
	}

	payload, err := m.signedBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, payload, sig) {
		return errors.New("manifest signature does not match its contents")
	}
	return nil
}
