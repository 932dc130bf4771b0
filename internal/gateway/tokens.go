package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNoCredentials is returned when neither the credentials endpoint nor a
// static bearer token can provide a token.
var ErrNoCredentials = errors.New("no recognition credentials available")

// CredentialsFetcher fetches fresh credentials.
type CredentialsFetcher interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// TokenSource caches recognition credentials and refreshes them on an
// interval. Without a fetcher, or while no fetch has succeeded yet, the
// static credentials are used.
type TokenSource struct {
	fetcher  CredentialsFetcher
	static   Credentials
	interval time.Duration

	mu      sync.RWMutex
	current Credentials
	fetched bool
}

// NewTokenSource creates a token source. fetcher may be nil.
func NewTokenSource(fetcher CredentialsFetcher, static Credentials, interval time.Duration) *TokenSource {
	return &TokenSource{fetcher: fetcher, static: static, interval: interval}
}

// Token returns the cached credentials, fetching them on first use.
func (t *TokenSource) Token(ctx context.Context) (Credentials, error) {
	t.mu.RLock()
	cur, ok := t.current, t.fetched
	t.mu.RUnlock()
	if ok {
		return cur, nil
	}
	if err := t.Refresh(ctx); err != nil {
		if t.static.AccessToken != "" {
			log.Warn().Err(err).Msg("Using static bearer token")
			return t.static, nil
		}
		return Credentials{}, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current, nil
}

// Refresh fetches new credentials. A failed refresh keeps the previous ones.
func (t *TokenSource) Refresh(ctx context.Context) error {
	if t.fetcher == nil {
		return ErrNoCredentials
	}
	creds, err := t.fetcher.Credentials(ctx)
	if err != nil {
		return err
	}
	if creds.AccessToken == "" {
		return ErrNoCredentials
	}
	if creds.ServiceURL == "" {
		creds.ServiceURL = t.static.ServiceURL
	}
	t.mu.Lock()
	t.current = creds
	t.fetched = true
	t.mu.Unlock()
	return nil
}

// Run refreshes the credentials every interval until ctx is done.
func (t *TokenSource) Run(ctx context.Context) {
	if t.fetcher == nil || t.interval <= 0 {
		return
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Refresh(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to refresh recognition credentials")
				continue
			}
			log.Debug().Msg("Refreshed recognition credentials")
		}
	}
}
