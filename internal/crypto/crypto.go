// Package crypto hashes and verifies API-token secrets. Secrets are never
// stored in the clear: HashSecret produces an argon2id hash encoding its
// own salt and parameters, and Verify compares in constant time.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// params are the argon2id cost parameters baked into every hash this
// package produces. They are also encoded into the hash string so a future
// change in defaults doesn't break verification of existing hashes.
type params struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
}

var defaultParams = params{
	memory:      64 * 1024,
	iterations:  3,
	parallelism: 2,
	saltLength:  16,
	keyLength:   32,
}

// HashSecret hashes secret with argon2id, returning an encoded string of
// the form "$argon2id$v=19$m=...,t=...,p=...$<salt>$<hash>".
func HashSecret(secret string) (string, error) {
	p := defaultParams

	salt := make([]byte, p.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(secret), salt, p.iterations, p.memory, p.parallelism, p.keyLength)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.iterations, p.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)

	return encoded, nil
}

// VerifySecret reports whether secret matches encodedHash, comparing in
// constant time. Any malformed hash is treated as a mismatch, never an
// error the caller has to special-case.
func VerifySecret(secret, encodedHash string) bool {
	p, salt, hash, err := decode(encodedHash)
	if err != nil {
		return false
	}

	candidate := argon2.IDKey([]byte(secret), salt, p.iterations, p.memory, p.parallelism, uint32(len(hash)))

	return subtle.ConstantTimeCompare(candidate, hash) == 1
}

func decode(encoded string) (params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params{}, nil, nil, errors.New("invalid hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params{}, nil, nil, fmt.Errorf("parse version: %w", err)
	}
	if version != argon2.Version {
		return params{}, nil, nil, errors.New("incompatible argon2 version")
	}

	var p params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.iterations, &p.parallelism); err != nil {
		return params{}, nil, nil, fmt.Errorf("parse params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params{}, nil, nil, fmt.Errorf("decode salt: %w", err)
	}

	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return params{}, nil, nil, fmt.Errorf("decode hash: %w", err)
	}

	return p, salt, hash, nil
}
