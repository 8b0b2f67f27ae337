// ABOUTME: Master key resolution chain: platform store, key file, then generate
// ABOUTME: Runs on its own goroutine so keychain calls never block the caller's scheduler

package vault

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Key sources reported by Resolver.Source.
const (
	SourceGenerated = "generated"
)

// Resolver produces the process master key.
type Resolver struct {
	platform KeyBackend // nil when no platform store is configured
	file     KeyBackend
	random   io.Reader
	logger   *slog.Logger

	mu     sync.Mutex
	source string
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithRandom overrides the entropy source used to generate new keys.
func WithRandom(r io.Reader) ResolverOption {
	return func(res *Resolver) { res.random = r }
}

// WithResolverLogger sets the logger. Nil means slog.Default().
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(res *Resolver) {
		if logger != nil {
			res.logger = logger
		}
	}
}

// NewResolver builds a resolver. platform may be nil; file is required.
func NewResolver(platform, file KeyBackend, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		platform: platform,
		file:     file,
		random:   rand.Reader,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "vault")
	return r
}

// Source names the backend that served the last resolved key, or
// SourceGenerated. Empty before the first successful resolution.
func (r *Resolver) Source() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.source
}

type resolveResult struct {
	key    MasterKey
	source string
	err    error
}

// ResolveMasterKey walks the backend chain and returns the master key.
// The chain runs on a dedicated goroutine; if ctx ends first the goroutine
// still finishes (and persists a generated key) but the caller gets ctx.Err().
func (r *Resolver) ResolveMasterKey(ctx context.Context) (MasterKey, error) {
	done := make(chan resolveResult, 1)
	go func() {
		key, source, err := r.resolve()
		done <- resolveResult{key: key, source: source, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return MasterKey{}, res.err
		}
		r.mu.Lock()
		r.source = res.source
		r.mu.Unlock()
		r.logger.Info("master key resolved", "source", res.source)
		return res.key, nil
	case <-ctx.Done():
		return MasterKey{}, ctx.Err()
	}
}

func (r *Resolver) resolve() (MasterKey, string, error) {
	if r.platform != nil {
		key, err := r.platform.Load()
		switch {
		case err == nil:
			return key, r.platform.Name(), nil
		case errors.Is(err, ErrCorruptKey):
			return MasterKey{}, "", fmt.Errorf("loading key from %s: %w", r.platform.Name(), err)
		case errors.Is(err, ErrKeyNotFound):
			r.logger.Debug("no key in platform store", "backend", r.platform.Name())
		default:
			r.logger.Warn("platform key store unavailable", "backend", r.platform.Name(), "error", err)
		}
	}

	key, err := r.file.Load()
	switch {
	case err == nil:
		return key, r.file.Name(), nil
	case !errors.Is(err, ErrKeyNotFound):
		return MasterKey{}, "", fmt.Errorf("loading key from %s: %w", r.file.Name(), err)
	}

	if _, err := io.ReadFull(r.random, key[:]); err != nil {
		return MasterKey{}, "", fmt.Errorf("generating master key: %w", err)
	}
	if err := r.persist(key); err != nil {
		return MasterKey{}, "", err
	}
	return key, SourceGenerated, nil
}

func (r *Resolver) persist(key MasterKey) error {
	if r.platform != nil {
		err := r.platform.Save(key)
		if err == nil {
			r.logger.Debug("stored master key", "backend", r.platform.Name())
			return nil
		}
		r.logger.Warn("could not store key in platform store, using file", "backend", r.platform.Name(), "error", err)
	}
	if err := r.file.Save(key); err != nil {
		return fmt.Errorf("persisting master key: %w", err)
	}
	r.logger.Debug("stored master key", "backend", r.file.Name())
	return nil
}
