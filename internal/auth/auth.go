// Package auth supplies remote-store credentials and tracks their expiry.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/notesync/internal/common"
)

// Credential is one set of remote-store credentials. SessionToken is
// optional; when it is a JWT its exp claim drives Expiry.
type Credential struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiry          time.Time
}

// Expired reports whether the credential is past its expiry. A zero
// Expiry means the credential does not expire.
func (c Credential) Expired(now time.Time) bool {
	return !c.Expiry.IsZero() && !now.Before(c.Expiry)
}

// Provider hands out the current credential and refreshes it when the
// remote rejects it as expired.
type Provider interface {
	Credential(ctx context.Context) (Credential, error)
	// Refresh obtains a replacement credential. Returns
	// common.ErrSessionExpired when the session cannot be renewed and
	// the user has to sign in again.
	Refresh(ctx context.Context) (Credential, error)
}

// TokenExpiry extracts the exp claim of a JWT without verifying the
// signature. The remote verifies tokens; locally the expiry is only a
// hint for refreshing before a round trip fails.
func TokenExpiry(tokenString string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}

// StaticProvider serves a fixed credential. Refresh fails with
// common.ErrSessionExpired because there is nothing to renew with.
type StaticProvider struct {
	cred Credential
}

func NewStaticProvider(cred Credential) *StaticProvider {
	if cred.Expiry.IsZero() && cred.SessionToken != "" {
		if exp, err := TokenExpiry(cred.SessionToken); err == nil {
			cred.Expiry = exp
		}
	}
	return &StaticProvider{cred: cred}
}

func (p *StaticProvider) Credential(ctx context.Context) (Credential, error) {
	return p.cred, nil
}

func (p *StaticProvider) Refresh(ctx context.Context) (Credential, error) {
	return Credential{}, common.ErrSessionExpired
}

// RefreshFunc obtains a fresh credential from an external source, for
// example by exchanging a long-lived refresh token.
type RefreshFunc func(ctx context.Context) (Credential, error)

// RenewingProvider caches a credential and renews it through a
// RefreshFunc. Concurrent Refresh calls collapse into one renewal.
type RenewingProvider struct {
	mu      sync.Mutex
	cred    Credential
	refresh RefreshFunc
}

func NewRenewingProvider(initial Credential, refresh RefreshFunc) *RenewingProvider {
	return &RenewingProvider{cred: initial, refresh: refresh}
}

func (p *RenewingProvider) Credential(ctx context.Context) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cred, nil
}

func (p *RenewingProvider) Refresh(ctx context.Context) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cred, err := p.refresh(ctx)
	if err != nil {
		return Credential{}, err
	}
	if cred.Expiry.IsZero() && cred.SessionToken != "" {
		if exp, err := TokenExpiry(cred.SessionToken); err == nil {
			cred.Expiry = exp
		}
	}
	p.cred = cred
	return cred, nil
}
