package block_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/treeverse/snapvault/pkg/block"
)

func TestParseLocation(t *testing.T) {
	cases := []struct {
		Name        string
		Address     string
		ExpectedErr error
		Expected    block.Location
	}{
		{
			Name:    "s3_bucket_only",
			Address: "s3://foo",
			Expected: block.Location{
				StorageType: block.StorageTypeS3,
				Scheme:      "s3",
				Bucket:      "foo",
			},
		},
		{
			Name:    "s3_with_prefix",
			Address: "s3://foo/backups/prod",
			Expected: block.Location{
				StorageType: block.StorageTypeS3,
				Scheme:      "s3",
				Bucket:      "foo",
				Prefix:      "backups/prod",
			},
		},
		{
			Name:    "s3_with_trailing_slash",
			Address: "s3://foo/backups/",
			Expected: block.Location{
				StorageType: block.StorageTypeS3,
				Scheme:      "s3",
				Bucket:      "foo",
				Prefix:      "backups",
			},
		},
		{
			Name:    "mem",
			Address: "mem://",
			Expected: block.Location{
				StorageType: block.StorageTypeMem,
				Scheme:      "mem",
			},
		},
		{
			Name:    "memory_alias",
			Address: "memory://",
			Expected: block.Location{
				StorageType: block.StorageTypeMem,
				Scheme:      "mem",
			},
		},
		{
			Name:    "local_absolute",
			Address: "local:///var/snapvault/repo",
			Expected: block.Location{
				StorageType: block.StorageTypeLocal,
				Scheme:      "local",
				Prefix:      "/var/snapvault/repo",
			},
		},
		{
			Name:    "local_relative",
			Address: "local://repo-data",
			Expected: block.Location{
				StorageType: block.StorageTypeLocal,
				Scheme:      "local",
				Prefix:      "repo-data",
			},
		},
		{
			Name:    "gs_bucket",
			Address: "gs://foo/bla",
			Expected: block.Location{
				StorageType: block.StorageTypeCloud,
				Scheme:      "gs",
				Bucket:      "foo",
				Prefix:      "bla",
			},
		},
		{
			Name:    "azblob_container",
			Address: "azblob://container/prefix",
			Expected: block.Location{
				StorageType: block.StorageTypeCloud,
				Scheme:      "azblob",
				Bucket:      "container",
				Prefix:      "prefix",
			},
		},
		{
			Name:        "unknown_scheme",
			Address:     "ftp://foo/bar",
			ExpectedErr: block.ErrInvalidAddress,
		},
		{
			Name:        "s3_missing_bucket",
			Address:     "s3://",
			ExpectedErr: block.ErrInvalidAddress,
		},
		{
			Name:        "local_missing_path",
			Address:     "local://",
			ExpectedErr: block.ErrInvalidAddress,
		},
	}

	for _, c := range cases {
		t.Run(c.Name, func(t *testing.T) {
			got, err := block.ParseLocation(c.Address)
			if c.ExpectedErr != nil {
				if !errors.Is(err, c.ExpectedErr) {
					t.Fatalf("ParseLocation(%s) error %v, expected %v", c.Address, err, c.ExpectedErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLocation(%s): %s", c.Address, err)
			}
			if !reflect.DeepEqual(got, c.Expected) {
				t.Errorf("ParseLocation(%s) got %+v, expected %+v", c.Address, got, c.Expected)
			}
		})
	}
}

func TestLocationString(t *testing.T) {
	for _, address := range []string{
		"s3://foo/backups/prod",
		"local:///var/snapvault/repo",
		"mem://",
		"gs://foo/bla",
	} {
		loc, err := block.ParseLocation(address)
		if err != nil {
			t.Fatalf("ParseLocation(%s): %s", address, err)
		}
		if loc.String() != address {
			t.Errorf("round trip of %s got %s", address, loc.String())
		}
	}
}
