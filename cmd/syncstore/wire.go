//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"
)

// initializeApp builds the App from the resolved settings.
func initializeApp(s *Settings) (*App, func(), error) {
	wire.Build(
		provideLogger,
		provideLocalStore,
		provideFreshness,
		provideRemote,
		provideOffline,
		provideEnvironment,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}
