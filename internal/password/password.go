// Package password hashes account and organization passwords.
//
// New hashes are argon2id. Hashes imported from the previous deployment are
// bcrypt and remain verifiable.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	hashTime    uint32 = 3
	hashMemory  uint32 = 64 * 1024
	hashThreads uint8  = 2
	hashKeyLen  uint32 = 32
	hashSaltLen        = 16
)

// ErrInvalidHash is returned when the stored value is not a recognised hash.
var ErrInvalidHash = errors.New("invalid password hash")

// Hash returns an argon2id hash string including parameters and salt.
func Hash(password string) (string, error) {
	salt := make([]byte, hashSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	sum := argon2.IDKey([]byte(password), salt, hashTime, hashMemory, hashThreads, hashKeyLen)
	return encode(params{memory: hashMemory, time: hashTime, threads: hashThreads}, salt, sum), nil
}

// Verify checks a password against an encoded argon2id or bcrypt hash.
func Verify(password, hash string) (bool, error) {
	if IsLegacy(hash) {
		err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, ErrInvalidHash
		}
	}

	p, salt, expected, err := decode(hash)
	if err != nil {
		return false, err
	}
	actual := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(actual, expected) == 1, nil
}

var (
	placeholderOnce sync.Once
	placeholderHash string
)

// VerifyMissing does the argon2id work of Verify for an account that does not
// exist, so a failed login takes as long whether or not the id is known. It
// always reports false.
func VerifyMissing(password string) bool {
	placeholderOnce.Do(func() {
		placeholderHash, _ = Hash("placeholder-account")
	})
	if placeholderHash != "" {
		_, _ = Verify(password, placeholderHash)
	}
	return false
}

// IsLegacy reports whether hash was produced by bcrypt.
func IsLegacy(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}

type params struct {
	memory  uint32
	time    uint32
	threads uint8
}

func encode(p params, salt, sum []byte) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.memory,
		p.time,
		p.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	)
}

func decode(hash string) (params, []byte, []byte, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params{}, nil, nil, ErrInvalidHash
	}

	version, err := parseVersion(parts[2])
	if err != nil || version != argon2.Version {
		return params{}, nil, nil, ErrInvalidHash
	}

	p, err := parseParams(parts[3])
	if err != nil {
		return params{}, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params{}, nil, nil, ErrInvalidHash
	}
	sum, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(sum) == 0 {
		return params{}, nil, nil, ErrInvalidHash
	}
	return p, salt, sum, nil
}

func parseVersion(value string) (int, error) {
	if !strings.HasPrefix(value, "v=") {
		return 0, ErrInvalidHash
	}
	return strconv.Atoi(strings.TrimPrefix(value, "v="))
}

func parseParams(value string) (params, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 3 {
		return params{}, ErrInvalidHash
	}

	mem, err := parseUint32Param(parts[0], "m=")
	if err != nil {
		return params{}, err
	}
	timeCost, err := parseUint32Param(parts[1], "t=")
	if err != nil {
		return params{}, err
	}
	threads, err := parseUint32Param(parts[2], "p=")
	if err != nil || threads == 0 || threads > 255 {
		return params{}, ErrInvalidHash
	}
	return params{memory: mem, time: timeCost, threads: uint8(threads)}, nil
}

func parseUint32Param(value, prefix string) (uint32, error) {
	if !strings.HasPrefix(value, prefix) {
		return 0, ErrInvalidHash
	}
	parsed, err := strconv.ParseUint(strings.TrimPrefix(value, prefix), 10, 32)
	if err != nil {
		return 0, ErrInvalidHash
	}
	return uint32(parsed), nil
}
