package config

type StoreConfig interface {
	GetStoreBackend() string
	GetStorePath() string
	GetRedisURL() string
	GetStoreKey() string
}

const (
	StoreBackendMemory = "memory"
	StoreBackendBolt   = "bolt"
	StoreBackendRedis  = "redis"
)

type Store struct{}

var _ StoreConfig = Store{}

func (Store) GetStoreBackend() string {
	return GetEnv("STORE_BACKEND", StoreBackendBolt)
}

func (Store) GetStorePath() string {
	return GetEnv("STORE_PATH", "./data/session.db")
}

func (Store) GetRedisURL() string {
	return GetEnv("REDIS_URL", "redis://localhost:6379/0")
}

// GetStoreKey names the persisted session record. Separate keys give
// independent client instances sharing one backend.
func (Store) GetStoreKey() string {
	return GetEnv("STORE_KEY", "default")
}
