// Package config loads and validates the full OpenMemory runtime
// configuration: which metastore, vector store, lock manager, and
// embedding provider to wire up, plus the encryption root keys and
// maintenance schedule. Grounded on the teacher's pkg/core/config.go:
// the same env-var-first, .env-file-discovery loading style and the
// same provider/config-map shape per backend, generalized from the
// teacher's single vector-store choice to OpenMemory's four backend
// axes (metastore, vectorstore, lock, embedder).
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/openmemory/core/pkg/errs"
)

// Config is the complete OpenMemory runtime configuration.
type Config struct {
	Metastore   MetastoreConfig   `json:"metastore"`
	VectorStore VectorStoreConfig `json:"vector_store"`
	Lock        LockConfig        `json:"lock"`
	Embedder    EmbedderConfig    `json:"embedder"`
	Crypto      CryptoConfig      `json:"crypto"`
	Schedule    ScheduleConfig    `json:"schedule"`
	NodeID      int64             `json:"node_id"`
}

// MetastoreConfig selects and configures the metadata-store backend.
type MetastoreConfig struct {
	// Provider is "sqlite" or "postgres".
	Provider string                 `json:"provider"`
	Config   map[string]interface{} `json:"config"`
}

// VectorStoreConfig selects and configures the vector-store backend.
type VectorStoreConfig struct {
	// Provider is "sqlite", "redis", or "oceanbase".
	Provider string                 `json:"provider"`
	Config   map[string]interface{} `json:"config"`
}

// LockConfig selects and configures the distributed lock backend.
type LockConfig struct {
	// Provider is "memory", "sqlite", or "redis".
	Provider string                 `json:"provider"`
	Config   map[string]interface{} `json:"config"`
}

// EmbedderConfig selects and configures the embedding provider.
//
// Supported providers: openai, qwen, ollama, synthetic.
type EmbedderConfig struct {
	Provider   string `json:"provider"`
	APIKey     string `json:"api_key"`
	Model      string `json:"model"`
	BaseURL    string `json:"base_url,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// CryptoConfig configures envelope encryption's root keys.
type CryptoConfig struct {
	PrimaryRootKey   string `json:"-"`
	SecondaryRootKey string `json:"-"`
}

// ScheduleConfig sets how often each maintenance job the scheduler
// runs fires, as Go duration strings (e.g. "24h", "1m").
type ScheduleConfig struct {
	Decay              string `json:"decay"`
	FlushCoactivations string `json:"flush_coactivations"`
	Consolidate        string `json:"consolidate"`
	OrphanPrune        string `json:"orphan_prune"`
}

// LoadFromEnv loads configuration from environment variables,
// discovering a .env file by searching the current and up to five
// parent directories, mirroring the teacher's FindEnvFile behavior.
func LoadFromEnv() (*Config, error) {
	if envPath, found := findEnvFile(); found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	metaProvider := getEnvOrDefault("METASTORE_PROVIDER", "sqlite")
	metaConfig := map[string]interface{}{}
	switch metaProvider {
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		metaConfig = map[string]interface{}{
			"host":     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":     port,
			"user":     getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password": os.Getenv("POSTGRES_PASSWORD"),
			"db_name":  getEnvOrDefault("POSTGRES_DATABASE", "openmemory"),
			"ssl_mode": getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	default:
		metaConfig = map[string]interface{}{
			"db_path": getEnvOrDefault("SQLITE_PATH", "./openmemory.db"),
		}
	}

	vecProvider := getEnvOrDefault("VECTORSTORE_PROVIDER", "sqlite")
	vecConfig := map[string]interface{}{}
	switch vecProvider {
	case "oceanbase":
		port, _ := strconv.Atoi(getEnvOrDefault("OCEANBASE_PORT", "2881"))
		dims, _ := strconv.Atoi(getEnvOrDefault("OCEANBASE_EMBEDDING_MODEL_DIMS", "768"))
		vecConfig = map[string]interface{}{
			"host":                 getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1"),
			"port":                 port,
			"user":                 getEnvOrDefault("OCEANBASE_USER", "root@sys"),
			"password":             os.Getenv("OCEANBASE_PASSWORD"),
			"db_name":              getEnvOrDefault("OCEANBASE_DATABASE", "openmemory"),
			"table":                getEnvOrDefault("OCEANBASE_TABLE", "memory_vectors"),
			"embedding_model_dims": dims,
		}
	case "redis":
		vecConfig = map[string]interface{}{
			"addr":     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			"password": os.Getenv("REDIS_PASSWORD"),
			"db":       getEnvOrDefault("REDIS_DB", "0"),
		}
	default:
		vecConfig = map[string]interface{}{
			"db_path": getEnvOrDefault("VECTORSTORE_SQLITE_PATH", "./openmemory-vectors.db"),
		}
	}

	lockProvider := getEnvOrDefault("LOCK_PROVIDER", "sqlite")
	lockConfig := map[string]interface{}{}
	switch lockProvider {
	case "redis":
		lockConfig = map[string]interface{}{
			"addr":     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			"password": os.Getenv("REDIS_PASSWORD"),
		}
	case "sqlite":
		lockConfig = map[string]interface{}{
			"db_path": getEnvOrDefault("LOCK_SQLITE_PATH", "./openmemory-locks.db"),
		}
	}

	embedderProvider := getEnvOrDefault("EMBEDDING_PROVIDER", "synthetic")
	embedderDims, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_DIMENSIONS", "768"))

	nodeID, _ := strconv.ParseInt(getEnvOrDefault("NODE_ID", "1"), 10, 64)

	cfg := &Config{
		Metastore:   MetastoreConfig{Provider: metaProvider, Config: metaConfig},
		VectorStore: VectorStoreConfig{Provider: vecProvider, Config: vecConfig},
		Lock:        LockConfig{Provider: lockProvider, Config: lockConfig},
		Embedder: EmbedderConfig{
			Provider:   embedderProvider,
			APIKey:     os.Getenv("EMBEDDING_API_KEY"),
			Model:      os.Getenv("EMBEDDING_MODEL"),
			BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
			Dimensions: embedderDims,
		},
		Crypto: CryptoConfig{
			PrimaryRootKey:   os.Getenv("CRYPTO_PRIMARY_ROOT_KEY"),
			SecondaryRootKey: os.Getenv("CRYPTO_SECONDARY_ROOT_KEY"),
		},
		Schedule: ScheduleConfig{
			Decay:              getEnvOrDefault("SCHEDULE_DECAY_INTERVAL", "24h"),
			FlushCoactivations: getEnvOrDefault("SCHEDULE_FLUSH_INTERVAL", "1m"),
			Consolidate:        getEnvOrDefault("SCHEDULE_CONSOLIDATE_INTERVAL", "168h"),
			OrphanPrune:        getEnvOrDefault("SCHEDULE_ORPHAN_PRUNE_INTERVAL", "24h"),
		},
		NodeID: nodeID,
	}
	return cfg, nil
}

// LoadFromJSON loads configuration from a JSON file. Crypto root keys
// are never read from JSON (json:"-" on CryptoConfig's fields) — they
// must come from the environment, keeping key material out of
// config files that might be committed or logged.
func LoadFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New("LoadFromJSON", errs.KindInternal, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errs.New("LoadFromJSON", errs.KindValidation, err)
	}
	cfg.Crypto = CryptoConfig{
		PrimaryRootKey:   os.Getenv("CRYPTO_PRIMARY_ROOT_KEY"),
		SecondaryRootKey: os.Getenv("CRYPTO_SECONDARY_ROOT_KEY"),
	}
	return &cfg, nil
}

// Validate checks that every required field is present.
func (c *Config) Validate() error {
	if c.Metastore.Provider == "" {
		return errs.New("Validate", errs.KindValidation, errs.ErrInvalidInput)
	}
	if c.VectorStore.Provider == "" {
		return errs.New("Validate", errs.KindValidation, errs.ErrInvalidInput)
	}
	if c.Lock.Provider == "" {
		return errs.New("Validate", errs.KindValidation, errs.ErrInvalidInput)
	}
	if c.Embedder.Provider == "" {
		return errs.New("Validate", errs.KindValidation, errs.ErrInvalidInput)
	}
	if c.Crypto.PrimaryRootKey == "" {
		return errs.New("Validate", errs.KindValidation, errs.ErrInvalidInput)
	}
	return nil
}

// Durations parses each schedule field, falling back to its own
// default if the configured string is empty or malformed.
func (s ScheduleConfig) Durations() (decay, flush, consolidate, orphanPrune time.Duration) {
	decay = parseDurationOrDefault(s.Decay, 24*time.Hour)
	flush = parseDurationOrDefault(s.FlushCoactivations, time.Minute)
	consolidate = parseDurationOrDefault(s.Consolidate, 7*24*time.Hour)
	orphanPrune = parseDurationOrDefault(s.OrphanPrune, 24*time.Hour)
	return
}

func parseDurationOrDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// findEnvFile searches the current directory and up to five parent
// directories for a .env or .env.example file.
func findEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}
	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		examplePath := filepath.Join(dir, ".env.example")
		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(examplePath); err == nil {
			return examplePath, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}
