package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	t.Chdir(t.TempDir())
	require.NoError(t, Load(""))

	s := Storage()
	assert.Equal(t, "disk", s.Type)
	assert.Equal(t, "sha256", s.Digest)
	assert.Equal(t, int64(4096), s.MinPersistedSize)
	assert.Equal(t, 3, s.ShardDepth)
	assert.Equal(t, 2, s.ShardWidth)
	assert.Equal(t, filepath.Join(RepoDirName, "objects"), filepath.Join(filepath.Base(filepath.Dir(s.Path)), filepath.Base(s.Path)))

	assert.Equal(t, 30*time.Second, LockTimeout())
	assert.Equal(t, GCConfig{MaxAge: 24 * time.Hour, Interval: time.Hour}, GC())
	assert.Equal(t, "sqlite", Database().Driver)
	assert.False(t, Metrics().Enabled)
}

func TestLoad_FileAndEnv(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	content := `
storage:
  type: s3
  digest: blake3
  min_persisted_size: 1024
s3:
  bucket: artifacts
gc:
  max_age: 2h
`
	require.NoError(t, os.WriteFile(cfgFile, []byte(content), 0o644))

	// 环境变量优先于配置文件
	t.Setenv("BINSTORE_STORAGE_DIGEST", "sha1")
	t.Setenv("BINSTORE_LOCK_TIMEOUT", "5s")

	require.NoError(t, Load(cfgFile))

	s := Storage()
	assert.Equal(t, "s3", s.Type)
	assert.Equal(t, "sha1", s.Digest)
	assert.Equal(t, int64(1024), s.MinPersistedSize)
	assert.Equal(t, "artifacts", S3().Bucket)
	assert.Equal(t, 2*time.Hour, GC().MaxAge)
	assert.Equal(t, 5*time.Second, LockTimeout())
}

func TestLoad_BadFile(t *testing.T) {
	viper.Reset()
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("storage: [unclosed"), 0o644))
	assert.Error(t, Load(cfgFile))
}
