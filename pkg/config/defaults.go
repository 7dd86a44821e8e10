package config

import (
	"github.com/spf13/viper"

	"github.com/treeverse/snapvault/pkg/repository"
)

const (
	BlockstoreTypeKey = "blockstore.type"

	BlockstoreLocalPathKey     = "blockstore.local.path"
	DefaultBlockstoreLocalPath = "~/snapvault/data"

	BlockstoreS3RegionKey     = "blockstore.s3.region"
	DefaultBlockstoreS3Region = "us-east-1"

	BlockstoreS3MaxRetriesKey     = "blockstore.s3.max_retries"
	DefaultBlockstoreS3MaxRetries = 5

	BlockstoreCloudBucketURLKey = "blockstore.cloud.bucket_url"

	RepositoryChunkSizeBytesKey      = "repository.chunk_size_bytes"
	RepositoryCompressKey            = "repository.compress"
	DefaultRepositoryCompress        = true
	RepositoryReadOnlyKey            = "repository.readonly"
	RepositoryWorkersKey             = "repository.workers"
	RepositoryMaxSnapshotMBpsKey     = "repository.max_snapshot_mbps"
	RepositoryMaxRestoreMBpsKey      = "repository.max_restore_mbps"
	RepositoryCleanupOpsPerSecondKey = "repository.cleanup_ops_per_sec"

	LoggingFormatKey        = "logging.format"
	LoggingLevelKey         = "logging.level"
	LoggingOutputKey        = "logging.output"
	LoggingFileMaxSizeMBKey = "logging.file_max_size_mb"
	LoggingFilesKeepKey     = "logging.files_keep"
)

func setDefaults() {
	viper.SetDefault(LoggingFormatKey, DefaultLoggingFormat)
	viper.SetDefault(LoggingLevelKey, DefaultLoggingLevel)
	viper.SetDefault(LoggingOutputKey, DefaultLoggingOutput)

	viper.SetDefault(BlockstoreLocalPathKey, DefaultBlockstoreLocalPath)
	viper.SetDefault(BlockstoreS3RegionKey, DefaultBlockstoreS3Region)
	viper.SetDefault(BlockstoreS3MaxRetriesKey, DefaultBlockstoreS3MaxRetries)

	viper.SetDefault(RepositoryChunkSizeBytesKey, repository.DefaultChunkSizeBytes)
	viper.SetDefault(RepositoryCompressKey, DefaultRepositoryCompress)
	viper.SetDefault(RepositoryWorkersKey, repository.DefaultWorkers)
	viper.SetDefault(RepositoryCleanupOpsPerSecondKey, repository.DefaultCleanupOpsPerSecond)
}
