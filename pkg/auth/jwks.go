// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/time/rate"
)

// jwksRegistrationTimeout bounds the first fetch of the key set.
const jwksRegistrationTimeout = 5 * time.Second

// registrationRetryDelay is how long a failed first fetch is remembered
// before another request may try again.
const registrationRetryDelay = 2 * time.Second

// keySource resolves a signing key by key id.
type keySource interface {
	Key(ctx context.Context, kid string) (any, error)
	Warm(ctx context.Context) error
}

// keyProvider resolves signing keys by key id from a remote JWKS. The set is
// cached by jwk.Cache; an unknown key id forces at most one refetch per
// refresh interval.
type keyProvider struct {
	url     string
	cache   *jwk.Cache
	limiter *rate.Limiter
	log     *slog.Logger
	now     func() time.Time

	mu            sync.Mutex
	registered    bool
	lastErr       error
	retryNotAfter time.Time
}

func newKeyProvider(ctx context.Context, url string, client *http.Client, refreshInterval time.Duration, log *slog.Logger) (*keyProvider, error) {
	cache, err := jwk.NewCache(ctx, httprc.NewClient(httprc.WithHTTPClient(client)))
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}
	return &keyProvider{
		url:     url,
		cache:   cache,
		limiter: rate.NewLimiter(rate.Every(refreshInterval), 1),
		log:     log,
		now:     time.Now,
	}, nil
}

// ensureRegistered performs the first fetch lazily. A failure is not sticky:
// after registrationRetryDelay the next caller tries again. A failure caused
// by the caller's own context is not remembered at all.
func (p *keyProvider) ensureRegistered(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.registered {
		return nil
	}
	if p.lastErr != nil && p.now().Before(p.retryNotAfter) {
		return p.lastErr
	}

	regCtx, cancel := context.WithTimeout(ctx, jwksRegistrationTimeout)
	defer cancel()

	err := p.cache.Register(regCtx, p.url)
	if err != nil {
		// the URL may already be tracked from an earlier failed attempt
		if _, rerr := p.cache.Refresh(regCtx, p.url); rerr == nil {
			err = nil
		}
	}
	if err != nil && ctx.Err() != nil {
		// the caller went away; the next request starts a fresh attempt
		return fmt.Errorf("%w: %s: %v", ErrKeyFetch, p.url, ctx.Err())
	}
	if err != nil {
		p.lastErr = fmt.Errorf("%w: %s: %v", ErrKeyFetch, p.url, err)
		p.retryNotAfter = p.now().Add(registrationRetryDelay)
		p.log.Warn("JWKS fetch failed", "jwks_uri", p.url, "error", err)
		return p.lastErr
	}

	p.registered = true
	p.lastErr = nil
	p.log.Debug("JWKS registered", "jwks_uri", p.url)
	return nil
}

// Key returns the raw public key for kid. An empty kid is accepted only when
// the set holds a single key.
func (p *keyProvider) Key(ctx context.Context, kid string) (any, error) {
	if err := p.ensureRegistered(ctx); err != nil {
		return nil, err
	}

	set, err := p.cache.Lookup(ctx, p.url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFetch, err)
	}

	key, found := findKey(set, kid)
	if !found && p.limiter.Allow() {
		p.log.Debug("key id not in cached JWKS, refreshing", "kid", kid)
		set, err = p.cache.Refresh(ctx, p.url)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyFetch, err)
		}
		key, found = findKey(set, kid)
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeyID, kid)
	}

	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("%w: export key %q: %v", ErrKeyFetch, kid, err)
	}
	return raw, nil
}

// Warm fetches the key set ahead of the first request, ignoring the retry
// window of an earlier failure.
func (p *keyProvider) Warm(ctx context.Context) error {
	p.mu.Lock()
	p.retryNotAfter = time.Time{}
	p.mu.Unlock()
	return p.ensureRegistered(ctx)
}

func findKey(set jwk.Set, kid string) (jwk.Key, bool) {
	if kid == "" {
		if set.Len() == 1 {
			return set.Key(0)
		}
		return nil, false
	}
	return set.LookupKeyID(kid)
}
