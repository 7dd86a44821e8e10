package config

// S3AuthInfo holds S3-style authentication.
type S3AuthInfo struct {
	Profile     string
	Credentials *struct {
		AccessKeyID     SecureString `mapstructure:"access_key_id"`
		SecretAccessKey SecureString `mapstructure:"secret_access_key"`
		SessionToken    SecureString `mapstructure:"session_token"`
	}
}

// Output struct of configuration, used to validate.  If you read a key using a viper accessor
// rather than accessing a field of this struct, that key will *not* be validated.  So don't
// do that.
type configuration struct {
	Logging struct {
		Format        string  `mapstructure:"format"`
		Level         string  `mapstructure:"level"`
		Output        Strings `mapstructure:"output"`
		FileMaxSizeMB int     `mapstructure:"file_max_size_mb"`
		FilesKeep     int     `mapstructure:"files_keep"`
	}

	Blockstore struct {
		Type  string `validate:"required"`
		Local *struct {
			Path string
		}
		S3 *struct {
			S3AuthInfo     `mapstructure:",squash"`
			Region         string
			Endpoint       string
			Bucket         string
			Prefix         string
			ForcePathStyle bool `mapstructure:"force_path_style"`
			MaxRetries     int  `mapstructure:"max_retries"`
		}
		Cloud *struct {
			BucketURL string `mapstructure:"bucket_url"`
			Prefix    string
		}
	}

	Repository struct {
		ChunkSizeBytes      int64 `mapstructure:"chunk_size_bytes"`
		Compress            bool
		ReadOnly            bool `mapstructure:"readonly"`
		Workers             int
		MaxSnapshotMBps     int `mapstructure:"max_snapshot_mbps"`
		MaxRestoreMBps      int `mapstructure:"max_restore_mbps"`
		CleanupOpsPerSecond int `mapstructure:"cleanup_ops_per_sec"`
	}
}
