// Package session issues and verifies the signed tokens that replace
// server-side session state. A token is immutable: any change to the
// student or organization view requires issuing a new one.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/bigkaiyoh/TGF-Scholar/internal/domain"
)

// Kind identifies who a session belongs to.
type Kind string

const (
	KindUser         Kind = "user"
	KindOrganization Kind = "organization"
)

// ErrInvalidToken is returned for malformed, expired or forged tokens.
var ErrInvalidToken = errors.New("invalid session token")

// Claims is the custom payload of a session token.
type Claims struct {
	Kind Kind                `json:"kind"`
	User *domain.SessionUser `json:"user,omitempty"`
	Org  *domain.SessionOrg  `json:"org,omitempty"`
}

// Session is a verified session token.
type Session struct {
	ID        string
	Kind      Kind
	Subject   string
	User      *domain.SessionUser
	Org       *domain.SessionOrg
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Token is a freshly issued session token.
type Token struct {
	Value     string    `json:"token"`
	ID        string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issuer signs and verifies session tokens.
type Issuer struct {
	keys   *KeyManager
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewIssuer constructs an Issuer. now may be nil.
func NewIssuer(keys *KeyManager, ttl time.Duration, issuer string, now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	return &Issuer{keys: keys, ttl: ttl, issuer: issuer, now: now}
}

// IssueUser signs a student session.
func (i *Issuer) IssueUser(ctx context.Context, user domain.SessionUser) (Token, error) {
	return i.issue(ctx, user.ID, Claims{Kind: KindUser, User: &user})
}

// IssueOrganization signs an organization session.
func (i *Issuer) IssueOrganization(ctx context.Context, org domain.SessionOrg) (Token, error) {
	return i.issue(ctx, org.Code, Claims{Kind: KindOrganization, Org: &org})
}

func (i *Issuer) issue(ctx context.Context, subject string, custom Claims) (Token, error) {
	key, err := i.keys.EnsureSigningKey(ctx)
	if err != nil {
		return Token{}, fmt.Errorf("ensure signing key: %w", err)
	}

	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: gojose.SignatureAlgorithm(key.Algorithm), Key: key.Secret}, (&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.KID))
	if err != nil {
		return Token{}, fmt.Errorf("new signer: %w", err)
	}

	now := i.now().UTC()
	expiresAt := now.Add(i.ttl)
	jti := uuid.NewString()
	std := gojwt.Claims{
		ID:        jti,
		Subject:   subject,
		Issuer:    i.issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		NotBefore: gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(expiresAt),
	}

	raw, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return Token{}, fmt.Errorf("serialize jwt: %w", err)
	}
	return Token{Value: raw, ID: jti, ExpiresAt: expiresAt}, nil
}

// Parse verifies token and returns its session.
func (i *Issuer) Parse(ctx context.Context, token string) (Session, error) {
	key, err := i.keys.ActiveKey(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("load key: %w", err)
	}

	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{gojose.SignatureAlgorithm(key.Algorithm)})
	if err != nil {
		return Session{}, fmt.Errorf("%w: parse: %w", ErrInvalidToken, err)
	}

	var std gojwt.Claims
	var custom Claims
	if err := parsed.Claims(key.Secret, &std, &custom); err != nil {
		return Session{}, fmt.Errorf("%w: verify: %w", ErrInvalidToken, err)
	}
	if err := std.ValidateWithLeeway(gojwt.Expected{Issuer: i.issuer, Time: i.now()}, 0); err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	switch {
	case custom.Kind == KindUser && custom.User != nil && custom.User.ID == std.Subject:
	case custom.Kind == KindOrganization && custom.Org != nil && custom.Org.Code == std.Subject:
	default:
		return Session{}, fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}

	return Session{
		ID:        std.ID,
		Kind:      custom.Kind,
		Subject:   std.Subject,
		User:      custom.User,
		Org:       custom.Org,
		IssuedAt:  std.IssuedAt.Time().UTC(),
		ExpiresAt: std.Expiry.Time().UTC(),
	}, nil
}
