// Package auth provides the credential and token capabilities the services
// depend on: slow salted password hashing and signed, expiring bearer tokens.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/Shivanand-hulikatti/eventjoin/internal/model"
)

// PasswordHasher turns passwords into storable hashes and checks candidates
// against them. Verify must compare in constant time.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) error
}

// NewPasswordHasher returns the hasher registered under name.
func NewPasswordHasher(name string, bcryptCost int) (PasswordHasher, error) {
	switch name {
	case "", "bcrypt":
		return BcryptHasher{Cost: bcryptCost}, nil
	case "argon2id":
		return Argon2idHasher{Params: DefaultArgon2idParams}, nil
	}
	return nil, fmt.Errorf("unknown password hasher %q", name)
}

// BcryptHasher hashes with bcrypt at the configured cost.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is required", model.ErrInvalidCredential)
	}
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: password exceeds 72 bytes", model.ErrInvalidArgument)
		}
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return model.ErrInvalidCredential
	}
	return nil
}

// Argon2idParams tunes the argon2id key derivation.
type Argon2idParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var DefaultArgon2idParams = Argon2idParams{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// Argon2idHasher encodes hashes as $argon2id$v=19$m=..,t=..,p=..$salt$hash.
type Argon2idHasher struct{ Params Argon2idParams }

func (a Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is required", model.ErrInvalidCredential)
	}
	p := a.Params
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("argon2id salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (a Argon2idHasher) Verify(hash, password string) error {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return model.ErrInvalidCredential
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return model.ErrInvalidCredential
	}

	var p Argon2idParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return model.ErrInvalidCredential
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return model.ErrInvalidCredential
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return model.ErrInvalidCredential
	}

	got := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(want)))
	if subtle.ConstantTimeCompare(want, got) != 1 {
		return model.ErrInvalidCredential
	}
	return nil
}
