package session

import (
	"context"
	"time"

	"github.com/phuongtg/spark-cloud-go/pkg/errors"
)

// Credential is a bearer token and its expiry.
type Credential struct {
	// AccessToken is sent as "Authorization: Bearer <token>".
	AccessToken string

	// ExpiresAt is when the token stops being accepted. Zero means unknown.
	ExpiresAt time.Time
}

// Valid reports whether the credential is usable at now, treating tokens that
// expire within skew as already expired.
func (c Credential) Valid(now time.Time, skew time.Duration) bool {
	if c.AccessToken == "" {
		return false
	}
	if c.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(skew).Before(c.ExpiresAt)
}

// Provider supplies credentials.
//
// Token returns the current credential, refreshing first if none is usable.
// Refresh forces a new credential; it is called after the cloud rejected the
// one Token returned. A Refresh failure is final for the caller: it must
// report an error matching errors.ErrAuth.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	Token(ctx context.Context) (Credential, error)
	Refresh(ctx context.Context) (Credential, error)
}

// Static is a Provider with a fixed token.
type Static struct {
	cred Credential
}

// NewStatic returns a provider that always hands out token.
func NewStatic(token string) *Static {
	return &Static{cred: Credential{AccessToken: token}}
}

// Token returns the fixed credential.
func (s *Static) Token(context.Context) (Credential, error) {
	if s.cred.AccessToken == "" {
		return Credential{}, errors.NewAuthError(0, "no access token configured")
	}
	return s.cred, nil
}

// Refresh always fails: a static token cannot be replaced.
func (s *Static) Refresh(context.Context) (Credential, error) {
	return Credential{}, errors.NewAuthError(0, "static token cannot be refreshed")
}

var _ Provider = (*Static)(nil)
