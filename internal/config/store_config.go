package config

type StoreConfig interface {
	GetStoreDriver() string
	GetStorePath() string
	GetStoreEncryptionKey() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisPrefix() string
}

type storeValues struct {
	Driver        string // file, sqlite, redis or memory
	Path          string
	EncryptionKey string // hex, 32 bytes; empty disables encryption of the file store
	Redis         redisValues
}

type redisValues struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

var _ StoreConfig = mainConfig{}

func (c mainConfig) GetStoreDriver() string {
	return c.v.Store.Driver
}

func (c mainConfig) GetStorePath() string {
	return c.v.Store.Path
}

func (c mainConfig) GetStoreEncryptionKey() string {
	return c.v.Store.EncryptionKey
}

func (c mainConfig) GetRedisAddr() string {
	return c.v.Store.Redis.Addr
}

func (c mainConfig) GetRedisPassword() string {
	return c.v.Store.Redis.Password
}

func (c mainConfig) GetRedisDB() int {
	return c.v.Store.Redis.DB
}

func (c mainConfig) GetRedisPrefix() string {
	return c.v.Store.Redis.Prefix
}
