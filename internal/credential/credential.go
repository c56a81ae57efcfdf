// Package credential reads relay key material from a secret store and keeps
// it in memory for a bounded time.
package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"go.uber.org/zap/zapcore"
)

// ErrUnavailable is wrapped by every failure to obtain key material.
var ErrUnavailable = errors.New("credential unavailable")

const redacted = "[REDACTED]"

// Credential is opaque, read-only key material. Every printable rendering is
// redacted; only Bytes and Decode expose the content.
type Credential struct {
	material []byte
}

func New(material []byte) Credential {
	return Credential{material: append([]byte(nil), material...)}
}

func (c Credential) IsZero() bool { return len(c.material) == 0 }

// Bytes returns a copy of the material.
func (c Credential) Bytes() []byte { return append([]byte(nil), c.material...) }

// Decode unmarshals JSON material into v. The error never quotes the input.
func (c Credential) Decode(v any) error {
	if err := json.Unmarshal(c.material, v); err != nil {
		return errors.New("credential material is not the expected JSON document")
	}
	return nil
}

// Fingerprint identifies the material without revealing it.
func (c Credential) Fingerprint() string {
	if c.IsZero() {
		return ""
	}
	sum := sha256.Sum256(c.material)
	return hex.EncodeToString(sum[:6])
}

func (c Credential) String() string   { return redacted }
func (c Credential) GoString() string { return "credential.Credential{" + redacted + "}" }

func (c Credential) MarshalJSON() ([]byte, error) { return json.Marshal(redacted) }

func (c Credential) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("fingerprint", c.Fingerprint())
	return nil
}
