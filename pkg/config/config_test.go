package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRequiresAllProviders(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate())

	cfg = &Config{
		Metastore:   MetastoreConfig{Provider: "sqlite"},
		VectorStore: VectorStoreConfig{Provider: "sqlite"},
		Lock:        LockConfig{Provider: "memory"},
		Embedder:    EmbedderConfig{Provider: "synthetic"},
		Crypto:      CryptoConfig{PrimaryRootKey: "a-secret-key"},
	}
	require.NoError(t, cfg.Validate())
}

func TestValidateRequiresPrimaryRootKey(t *testing.T) {
	cfg := &Config{
		Metastore:   MetastoreConfig{Provider: "sqlite"},
		VectorStore: VectorStoreConfig{Provider: "sqlite"},
		Lock:        LockConfig{Provider: "memory"},
		Embedder:    EmbedderConfig{Provider: "synthetic"},
	}
	require.Error(t, cfg.Validate())
}

func TestLoadFromEnvAppliesDefaults(t *testing.T) {
	t.Setenv("CRYPTO_PRIMARY_ROOT_KEY", "test-root-key")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Metastore.Provider)
	require.Equal(t, "sqlite", cfg.VectorStore.Provider)
	require.Equal(t, "synthetic", cfg.Embedder.Provider)
	require.Equal(t, "test-root-key", cfg.Crypto.PrimaryRootKey)
	require.NoError(t, cfg.Validate())
}
