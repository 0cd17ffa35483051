package main

import (
	"context"
	"testing"
	"time"

	"github.com/socialmap/socialmap/backend/go-services/internal/config"
	"github.com/socialmap/socialmap/backend/go-services/internal/users"
	"github.com/stretchr/testify/require"
)

func storeConfig(env, uri string) *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Environment: env},
		MongoDB: config.MongoDBConfig{URI: uri, Database: "socialmap_test", Timeout: time.Second},
	}
}

func TestOpenUserStore_DevelopmentFallsBackToMemory(t *testing.T) {
	for _, uri := range []string{"", "not-a-mongo-uri"} {
		repo, client, err := openUserStore(context.Background(), storeConfig("development", uri), 1)
		require.NoError(t, err)
		require.Nil(t, client)
		require.IsType(t, &users.MemoryRepository{}, repo)
	}
}

func TestOpenUserStore_ProductionRequiresMongo(t *testing.T) {
	_, _, err := openUserStore(context.Background(), storeConfig("production", ""), 1)
	require.ErrorContains(t, err, "MONGODB_URI is required")

	repo, client, err := openUserStore(context.Background(), storeConfig("production", "not-a-mongo-uri"), 1)
	require.Error(t, err)
	require.Nil(t, repo)
	require.Nil(t, client)
}
