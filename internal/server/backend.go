package server

import (
	"context"
	"fmt"

	"github.com/brainquiz/apiserver/config"
	"github.com/brainquiz/apiserver/internal/db"
	"github.com/brainquiz/apiserver/internal/services"
	"github.com/brainquiz/apiserver/internal/store"
)

// OpenUserRepository connects the user store selected by cfg.StoreBackend.
// The returned close function releases the underlying connection.
func OpenUserRepository(ctx context.Context, cfg config.Config) (services.UserRepository, func() error, error) {
	switch cfg.StoreBackend {
	case "", "postgres":
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return store.NewUserRepository(conn), conn.Close, nil

	case "mongo":
		client, err := db.OpenMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() error { return client.Disconnect(context.Background()) }

		repo := store.NewMongoUserRepository(client.Database(cfg.Mongo.Database), cfg.Mongo.Collection)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = closeFn()
			return nil, nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		return repo, closeFn, nil

	case "memory":
		return store.NewMemoryUserRepository(), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
