package params

// AdapterConfig configures a block adapter.
type AdapterConfig interface {
	BlockstoreType() string
	BlockstoreLocalParams() (Local, error)
	BlockstoreS3Params() (S3, error)
	BlockstoreCloudParams() (Cloud, error)
}

type Mem struct{}

type Local struct {
	// Path is the directory holding the repository.
	Path string
}

type S3 struct {
	Bucket string
	// Prefix keys the repository under a sub-path of the bucket.
	Prefix          string
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// Endpoint overrides the AWS endpoint, for S3-compatible stores.
	Endpoint       string
	ForcePathStyle bool
	MaxRetries     int
}

// Cloud configures a gocloud.dev bucket, e.g. gs://bucket or
// azblob://container.
type Cloud struct {
	// BucketURL in gocloud.dev form, without a key prefix.
	BucketURL string
	Prefix    string
}
