package main

import (
	"log"
	"os"

	"github.com/burugo/syncstore"
	"github.com/burugo/syncstore/drivers/cache/redis"
	"github.com/burugo/syncstore/drivers/db/sqlite"
	remotehttp "github.com/burugo/syncstore/drivers/remote/http"
)

// App holds what the commands run against.
type App struct {
	Env     *syncstore.Environment
	Local   *sqlite.Store
	Offline *syncstore.OfflineFlag
}

func provideLogger() *log.Logger {
	return log.New(os.Stderr, "syncstore: ", log.LstdFlags)
}

// provideLocalStore opens the sqlite cache. Includes cleanup.
func provideLocalStore(s *Settings) (*sqlite.Store, func(), error) {
	store, err := sqlite.Open(s.DBPath)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			log.Printf("Error closing local store: %v", err)
		}
	}
	return store, cleanup, nil
}

// provideFreshness connects to Redis when an address is configured; without
// one it returns nil and TTL records stay in the local store.
func provideFreshness(s *Settings) (syncstore.FreshnessStore, func(), error) {
	if s.RedisAddr == "" {
		return nil, func() {}, nil
	}
	client, err := redis.NewClient(nil, &redis.Options{Addr: s.RedisAddr})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			log.Printf("Error closing redis client: %v", err)
		}
	}
	return client, cleanup, nil
}

// provideRemote returns nil when no base URL is set, so offline use of the
// cache still works.
func provideRemote(s *Settings) (syncstore.Remote, error) {
	if s.BaseURL == "" {
		return nil, nil
	}
	client, err := remotehttp.NewClient(remotehttp.Options{BaseURL: s.BaseURL, Token: s.Token})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func provideOffline(s *Settings) *syncstore.OfflineFlag {
	flag := &syncstore.OfflineFlag{}
	flag.Set(s.Offline)
	return flag
}

func provideEnvironment(
	s *Settings,
	remote syncstore.Remote,
	local *sqlite.Store,
	freshness syncstore.FreshnessStore,
	offline *syncstore.OfflineFlag,
	logger *log.Logger,
) (*syncstore.Environment, error) {
	return syncstore.New(syncstore.Config{
		Remote:    remote,
		Local:     local,
		Freshness: freshness,
		Offline:   offline,
		TTL:       s.TTL,
		Logger:    logger,
	})
}
