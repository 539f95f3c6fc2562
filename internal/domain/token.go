package domain

import "time"

// SigningKey stores the secret used to sign session tokens.
type SigningKey struct {
	KID       string
	Secret    []byte
	Algorithm string
	Active    bool
	CreatedAt time.Time
}
