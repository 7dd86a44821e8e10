package block

import (
	"fmt"
	"net/url"
	"strings"
)

type StorageType int

const (
	StorageTypeMem = iota
	StorageTypeLocal
	StorageTypeS3
	StorageTypeCloud
)

const (
	BlockstoreTypeMem   = "mem"
	BlockstoreTypeLocal = "local"
	BlockstoreTypeS3    = "s3"
	BlockstoreTypeCloud = "cloud"
)

func (s StorageType) BlockstoreType() string {
	switch s {
	case StorageTypeMem:
		return BlockstoreTypeMem
	case StorageTypeLocal:
		return BlockstoreTypeLocal
	case StorageTypeS3:
		return BlockstoreTypeS3
	case StorageTypeCloud:
		return BlockstoreTypeCloud
	default:
		panic("unknown storage type")
	}
}

// Location is a parsed repository address, e.g. s3://bucket/backups,
// local:///var/snapvault, gs://bucket/path or mem://.
type Location struct {
	StorageType StorageType
	// Scheme as written in the address. For StorageTypeCloud this selects
	// the gocloud.dev driver.
	Scheme string
	// Bucket, or container name; empty for mem and local.
	Bucket string
	// Prefix under the bucket, or the filesystem path for local.
	Prefix string
}

func (l Location) String() string {
	switch l.StorageType {
	case StorageTypeMem:
		return "mem://"
	case StorageTypeLocal:
		return "local://" + l.Prefix
	default:
		return l.Scheme + "://" + formatPathWithNamespace(l.Bucket, l.Prefix)
	}
}

func formatPathWithNamespace(namespacePath, keyPath string) string {
	namespacePath = strings.Trim(namespacePath, "/")
	if len(namespacePath) == 0 {
		return strings.TrimPrefix(keyPath, "/")
	}
	if keyPath == "" {
		return namespacePath
	}
	return namespacePath + "/" + strings.TrimPrefix(keyPath, "/")
}

// ParseLocation parses a repository address into its backing store
// coordinates.
func ParseLocation(address string) (Location, error) {
	parsed, err := url.Parse(address)
	if err != nil {
		return Location{}, fmt.Errorf("parse %s: %w", address, ErrInvalidAddress)
	}
	switch parsed.Scheme {
	case "mem", "memory":
		return Location{StorageType: StorageTypeMem, Scheme: "mem"}, nil
	case "local", "file":
		path := parsed.Path
		if parsed.Host != "" {
			// local://relative/dir parses the first segment as host
			path = parsed.Host + path
		}
		if path == "" {
			return Location{}, fmt.Errorf("%s: missing path: %w", address, ErrInvalidAddress)
		}
		return Location{StorageType: StorageTypeLocal, Scheme: "local", Prefix: path}, nil
	case "s3":
		if parsed.Host == "" {
			return Location{}, fmt.Errorf("%s: missing bucket: %w", address, ErrInvalidAddress)
		}
		return Location{
			StorageType: StorageTypeS3,
			Scheme:      "s3",
			Bucket:      parsed.Host,
			Prefix:      strings.Trim(parsed.Path, "/"),
		}, nil
	case "gs", "azblob":
		if parsed.Host == "" {
			return Location{}, fmt.Errorf("%s: missing bucket: %w", address, ErrInvalidAddress)
		}
		return Location{
			StorageType: StorageTypeCloud,
			Scheme:      parsed.Scheme,
			Bucket:      parsed.Host,
			Prefix:      strings.Trim(parsed.Path, "/"),
		}, nil
	default:
		return Location{}, fmt.Errorf("%s: %w", parsed.Scheme, ErrInvalidAddress)
	}
}
