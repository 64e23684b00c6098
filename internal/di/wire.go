//go:build wireinject
// +build wireinject

package di

import (
	"pricemesh/pkg/config"
	"pricemesh/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Core state
		ProvideStore,
		ProvideAuthenticator,

		// Transport and coherency
		ProvideTransport,
		ProvideManager,

		// Admin surface
		ProvideStatusHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
