package syncstore

import (
	"context"
	"fmt"
	"log"
	"time"
)

// DefaultTTL is the freshness window used when neither the Config nor the
// UseCase sets one.
const DefaultTTL = 2 * time.Hour

// Config holds the collaborators a syncstore Environment is built from.
type Config struct {
	Remote    Remote         // Required unless every UseCase is local
	Local     LocalStore     // Required
	Freshness FreshnessStore // Optional shared TTL records
	Offline   OfflineMode    // Optional, defaults to always online
	Clock     Clock          // Optional, defaults to time.Now
	Headless  bool           // Treat every cache as expired (UI test runs)
	TTL       time.Duration  // Default TTL for BaseUseCase, defaults to DefaultTTL
	Logger    *log.Logger    // Optional, defaults to log.Default()
}

// Environment is the capability bundle every UseCase and Store runs against.
// It is passed explicitly; there is no package-level instance.
type Environment struct {
	Remote    Remote
	Local     LocalStore
	Freshness FreshnessStore
	Offline   OfflineMode
	Headless  bool
	TTL       time.Duration

	clock  Clock
	logger *log.Logger
}

// New validates cfg and builds an Environment.
func New(cfg Config) (*Environment, error) {
	if cfg.Local == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, ErrLocalNotSet)
	}
	env := &Environment{
		Remote:    cfg.Remote,
		Local:     cfg.Local,
		Freshness: cfg.Freshness,
		Offline:   cfg.Offline,
		Headless:  cfg.Headless,
		TTL:       cfg.TTL,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
	if env.TTL <= 0 {
		env.TTL = DefaultTTL
	}
	if env.clock == nil {
		env.clock = time.Now
	}
	if env.logger == nil {
		env.logger = log.Default()
	}
	env.logger.Printf("syncstore environment configured (remote=%t, freshness=%t, ttl=%s, headless=%t)",
		env.Remote != nil, env.Freshness != nil, env.TTL, env.Headless)
	return env, nil
}

// Now returns the environment's current time.
func (e *Environment) Now() time.Time { return e.clock() }

// Logger returns the environment's logger.
func (e *Environment) Logger() *log.Logger { return e.logger }

// IsOffline reports whether the offline-mode signal is set.
func (e *Environment) IsOffline() bool {
	return e.Offline != nil && e.Offline.IsOfflineModeEnabled()
}

// Do sends req through the configured Remote.
func (e *Environment) Do(ctx context.Context, req Request) (*Response, error) {
	if e.Remote == nil {
		return nil, ErrRemoteNotSet
	}
	return e.Remote.Do(ctx, req)
}
