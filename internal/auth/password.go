package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// HashParams are the Argon2id cost parameters.
type HashParams struct {
	Time    uint32 // passes
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

// DefaultHashParams returns the production parameters: 64 MiB, 3 passes,
// single lane.
func DefaultHashParams() HashParams {
	return HashParams{
		Time:    3,
		Memory:  64 * 1024,
		Threads: 1,
		KeyLen:  32,
		SaltLen: 16,
	}
}

// Upper bounds accepted when decoding a stored hash, so a tampered row
// cannot make Verify allocate unbounded memory.
const (
	maxMemoryKiB = 1024 * 1024
	maxTime      = 16
	minKeyLen    = 16
	maxKeyLen    = 64
)

// dummyHash is verified against when the username does not exist, so the
// failure costs the same as a real wrong password. It matches no input
// anyone could know.
const dummyHash = "$argon2id$v=19$m=65536,t=3,p=1$Z3JheWxvZ2ljLWR1bW15$" +
	"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Hasher hashes and verifies secrets with Argon2id.
type Hasher struct {
	params HashParams
	dummy  string
}

// NewHasher returns a Hasher with DefaultHashParams.
func NewHasher() *Hasher {
	return &Hasher{params: DefaultHashParams(), dummy: dummyHash}
}

// NewHasherWithParams returns a Hasher with custom cost parameters. Tests
// use it with cheap parameters; the dummy hash follows the same cost.
func NewHasherWithParams(p HashParams) *Hasher {
	return &Hasher{params: p, dummy: formatPHC(p, []byte("graylogic-dummy"), make([]byte, p.KeyLen))}
}

// Hash returns the PHC string for secret with a fresh random salt:
// $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
func (h *Hasher) Hash(secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", &InputError{Field: "secret", Reason: "must not be empty"}
	}

	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey(secret, salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)
	defer clear(key)

	return formatPHC(h.params, salt, key), nil
}

// Verify reports whether secret matches encoded. It fails closed: a
// malformed or out-of-bounds stored hash is a mismatch, never an error.
func (h *Hasher) Verify(secret []byte, encoded string) bool {
	salt, want, params, err := decodePHC(encoded)
	if err != nil {
		return false
	}

	got := argon2.IDKey(secret, salt, params.Time, params.Memory, params.Threads, uint32(len(want))) //nolint:gosec // G115: bounded by maxKeyLen
	defer clear(got)

	return subtle.ConstantTimeCompare(want, got) == 1
}

// VerifyDummy spends the same work as a real verification and discards the
// result.
func (h *Hasher) VerifyDummy(secret []byte) {
	_ = h.Verify(secret, h.dummy)
}

func formatPHC(p HashParams, salt, key []byte) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

var errMalformedHash = errors.New("malformed password hash")

// decodePHC parses an Argon2id PHC string and bounds its parameters.
func decodePHC(encoded string) (salt, key []byte, params HashParams, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" { //nolint:mnd // PHC has 6 $-delimited parts
		return nil, nil, params, errMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, nil, params, errMalformedHash
	}

	var threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Time, &threads); err != nil {
		return nil, nil, params, errMalformedHash
	}
	if params.Memory == 0 || params.Memory > maxMemoryKiB ||
		params.Time == 0 || params.Time > maxTime ||
		threads == 0 || threads > 255 {
		return nil, nil, params, errMalformedHash
	}
	params.Threads = uint8(threads)

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return nil, nil, params, errMalformedHash
	}

	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) < minKeyLen || len(key) > maxKeyLen {
		return nil, nil, params, errMalformedHash
	}

	return salt, key, params, nil
}
