// Package backend opens the Store selected by configuration.
package backend

import (
	"context"
	"fmt"
	"io"

	oauth "github.com/haileyok/solid-oauth-golang"
	"github.com/haileyok/solid-oauth-golang/internal/config"
	"github.com/haileyok/solid-oauth-golang/store/redisstore"
	"github.com/haileyok/solid-oauth-golang/store/sqlstore"
)

// Store is an oauth.Store that holds a connection.
type Store interface {
	oauth.Store
	io.Closer
}

// Open picks the backend once. Callers hold on to the result for the life of
// the process.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		s, err := redisstore.Open(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendDB, "":
		s, err := sqlstore.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
