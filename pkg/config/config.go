package config

import (
	"time"

	"github.com/spf13/viper"
)

type StorageConfig struct {
	Type             string // disk | s3
	Path             string
	TempDir          string
	Digest           string // sha256 | sha1 | blake3
	MinPersistedSize int64
	ShardDepth       int
	ShardWidth       int
}

func Storage() StorageConfig {
	return StorageConfig{
		Type:             viper.GetString("storage.type"),
		Path:             viper.GetString("storage.path"),
		TempDir:          viper.GetString("storage.temp_dir"),
		Digest:           viper.GetString("storage.digest"),
		MinPersistedSize: viper.GetInt64("storage.min_persisted_size"),
		ShardDepth:       viper.GetInt("storage.shard_depth"),
		ShardWidth:       viper.GetInt("storage.shard_width"),
	}
}

// LockTimeout 阻塞加锁的上限，0 表示不限
func LockTimeout() time.Duration {
	return viper.GetDuration("lock.timeout")
}

type GCConfig struct {
	MaxAge   time.Duration // 隔离多久之后才物理删除
	Interval time.Duration // gc --watch 的周期
}

func GC() GCConfig {
	return GCConfig{
		MaxAge:   viper.GetDuration("gc.max_age"),
		Interval: viper.GetDuration("gc.interval"),
	}
}

type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	LockDir         string
}

func S3() S3Config {
	return S3Config{
		Endpoint:        viper.GetString("s3.endpoint"),
		Region:          viper.GetString("s3.region"),
		Bucket:          viper.GetString("s3.bucket"),
		AccessKeyID:     viper.GetString("s3.access_key"),
		SecretAccessKey: viper.GetString("s3.secret_key"),
		LockDir:         viper.GetString("s3.lock_dir"),
	}
}

type RedisConfig struct {
	URL string // 为空表示不启用缓存
	TTL time.Duration
}

func Redis() RedisConfig {
	return RedisConfig{
		URL: viper.GetString("redis.url"),
		TTL: viper.GetDuration("redis.ttl"),
	}
}

type DatabaseConfig struct {
	Driver   string // sqlite | postgres | none
	Path     string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Debug    bool
}

func Database() DatabaseConfig {
	return DatabaseConfig{
		Driver:   viper.GetString("database.driver"),
		Path:     viper.GetString("database.path"),
		Host:     viper.GetString("database.host"),
		Port:     viper.GetInt("database.port"),
		User:     viper.GetString("database.user"),
		Password: viper.GetString("database.password"),
		DBName:   viper.GetString("database.dbname"),
		SSLMode:  viper.GetString("database.sslmode"),
		Debug:    viper.GetBool("database.debug"),
	}
}

type MetricsConfig struct {
	Enabled bool
	Listen  string
}

func Metrics() MetricsConfig {
	return MetricsConfig{
		Enabled: viper.GetBool("metrics.enabled"),
		Listen:  viper.GetString("metrics.listen"),
	}
}
