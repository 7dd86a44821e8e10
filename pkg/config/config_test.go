package config_test

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/treeverse/snapvault/pkg/config"
	"github.com/treeverse/snapvault/pkg/testutil"
)

func newConfig(t *testing.T, yamlDoc string) *config.Config {
	t.Helper()
	viper.Reset()
	viper.SetConfigType("yaml")
	require.NoError(t, viper.ReadConfig(strings.NewReader(yamlDoc)))
	c, err := config.NewConfig()
	require.NoError(t, err)
	return c
}

func TestConfigDefaults(t *testing.T) {
	c := newConfig(t, `
blockstore:
  type: mem
`)
	require.NoError(t, c.Validate())
	require.Equal(t, "mem", c.BlockstoreType())
	require.False(t, c.ReadOnly())

	local, err := c.BlockstoreLocalParams()
	require.NoError(t, err)
	require.NotContains(t, local.Path, "~")
	require.True(t, strings.HasSuffix(local.Path, "snapvault/data"), local.Path)

	s3, err := c.BlockstoreS3Params()
	require.NoError(t, err)
	require.Equal(t, "us-east-1", s3.Region)
	require.Equal(t, 5, s3.MaxRetries)
}

func TestConfigLocalBlockstore(t *testing.T) {
	c := newConfig(t, `
blockstore:
  type: local
  local:
    path: backups/store
`)
	require.NoError(t, c.Validate())
	local, err := c.BlockstoreLocalParams()
	require.NoError(t, err)
	require.Equal(t, "backups/store", local.Path)
}

func TestConfigS3Blockstore(t *testing.T) {
	c := newConfig(t, `
blockstore:
  type: s3
  s3:
    bucket: backups
    prefix: prod/cluster-1
    region: eu-west-1
    endpoint: https://minio.example.com
    force_path_style: true
    max_retries: 2
    credentials:
      access_key_id: AKIAEXAMPLE
      secret_access_key: shhh
      session_token: token
`)
	require.NoError(t, c.Validate())
	s3, err := c.BlockstoreS3Params()
	require.NoError(t, err)
	require.Equal(t, "backups", s3.Bucket)
	require.Equal(t, "prod/cluster-1", s3.Prefix)
	require.Equal(t, "eu-west-1", s3.Region)
	require.Equal(t, "https://minio.example.com", s3.Endpoint)
	require.True(t, s3.ForcePathStyle)
	require.Equal(t, 2, s3.MaxRetries)
	require.Equal(t, "AKIAEXAMPLE", s3.AccessKeyID)
	require.Equal(t, "shhh", s3.SecretAccessKey)
	require.Equal(t, "token", s3.SessionToken)
}

func TestConfigCloudBlockstore(t *testing.T) {
	c := newConfig(t, `
blockstore:
  type: cloud
  cloud:
    bucket_url: gs://backups
    prefix: prod
`)
	cloud, err := c.BlockstoreCloudParams()
	require.NoError(t, err)
	require.Equal(t, "gs://backups", cloud.BucketURL)
	require.Equal(t, "prod", cloud.Prefix)

	bare := newConfig(t, `
blockstore:
  type: cloud
`)
	_, err = bare.BlockstoreCloudParams()
	require.ErrorIs(t, err, config.ErrMissingRequiredKeys)
}

func TestConfigEnvironmentOverride(t *testing.T) {
	testutil.WithEnvironmentVariable(t, "SNAPVAULT_BLOCKSTORE_TYPE", "local")
	testutil.WithEnvironmentVariable(t, "SNAPVAULT_BLOCKSTORE_LOCAL_PATH", "/var/snapvault-env")

	viper.Reset()
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("SNAPVAULT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	require.NoError(t, viper.ReadConfig(strings.NewReader(`
blockstore:
  type: mem
`)))

	c, err := config.NewConfig()
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	require.Equal(t, "local", c.BlockstoreType())
	local, err := c.BlockstoreLocalParams()
	require.NoError(t, err)
	require.Equal(t, "/var/snapvault-env", local.Path)
}

func TestConfigValidateMissingBlockstoreType(t *testing.T) {
	c := newConfig(t, `
logging:
  level: DEBUG
`)
	err := c.Validate()
	require.ErrorIs(t, err, config.ErrMissingRequiredKeys)
	require.ErrorContains(t, err, "Blockstore.Type")
}

func TestConfigRejectsUnknownKeys(t *testing.T) {
	viper.Reset()
	viper.SetConfigType("yaml")
	require.NoError(t, viper.ReadConfig(strings.NewReader(`
blockstore:
  typ: mem
`)))
	_, err := config.NewConfig()
	require.Error(t, err)
}

func TestConfigRepositorySection(t *testing.T) {
	c := newConfig(t, `
blockstore:
  type: mem
repository:
  chunk_size_bytes: 1048576
  compress: false
  readonly: true
  workers: 8
  max_snapshot_mbps: 100
  max_restore_mbps: 50
  cleanup_ops_per_sec: 10
`)
	require.NoError(t, c.Validate())
	require.True(t, c.ReadOnly())
	// Two unconditional options plus one per configured value.
	require.Len(t, c.RepositoryOptions(), 7)

	fields := c.ToLoggerFields()
	require.Equal(t, "mem", fields["blockstore_type"])
	require.Equal(t, true, fields["readonly"])
}
