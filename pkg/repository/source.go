package repository

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var ErrBadFileName = errors.New("bad file name")

// FileMeta identifies one file of a shard commit: the physical name inside
// the shard, the byte length, and the xxhash64 of the content in hex.
type FileMeta struct {
	Name     string
	Length   int64
	Checksum string
}

// Commit is a point-in-time, immutable view of a shard's files. The engine
// reads from it during SnapshotShard; the caller guarantees nothing mutates
// underneath until the call returns.
type Commit interface {
	Files() []FileMeta
	Open(name string) (io.ReadCloser, error)
}

// Target is the destination of a shard restore. Files reports the files the
// engine owns in the target, which is what restore diffs against and what it
// may delete; anything not reported is never touched.
type Target interface {
	Files() ([]FileMeta, error)
	Create(name string) (io.WriteCloser, error)
	Remove(name string) error
}

// DirCommit is a Commit over a flat local directory, scanned once at
// construction.
type DirCommit struct {
	dir   string
	files []FileMeta
}

func NewDirCommit(dir string) (*DirCommit, error) {
	files, err := scanDir(dir)
	if err != nil {
		return nil, err
	}
	return &DirCommit{dir: dir, files: files}, nil
}

func (c *DirCommit) Files() []FileMeta {
	return append([]FileMeta(nil), c.files...)
}

func (c *DirCommit) Open(name string) (io.ReadCloser, error) {
	p, err := dirFilePath(c.dir, name)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// DirTarget is a Target over a flat local directory. It owns every regular
// file directly inside the directory.
type DirTarget struct {
	dir string
}

func NewDirTarget(dir string) (*DirTarget, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil { //nolint:mnd
		return nil, err
	}
	return &DirTarget{dir: dir}, nil
}

func (t *DirTarget) Files() ([]FileMeta, error) {
	return scanDir(t.dir)
}

func (t *DirTarget) Create(name string) (io.WriteCloser, error) {
	p, err := dirFilePath(t.dir, name)
	if err != nil {
		return nil, err
	}
	return os.Create(p)
}

func (t *DirTarget) Remove(name string) error {
	p, err := dirFilePath(t.dir, name)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func dirFilePath(dir, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%s: %w", name, ErrBadFileName)
	}
	return filepath.Join(dir, name), nil
}

// scanDir lists the regular files of a flat directory with their checksums.
func scanDir(dir string) ([]FileMeta, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	res := make([]FileMeta, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		checksum, length, err := fileChecksum(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		res = append(res, FileMeta{Name: entry.Name(), Length: length, Checksum: checksum})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func fileChecksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()
	h := xxhash.New()
	length, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return checksumHex(h.Sum64()), length, nil
}

// checksumHex renders an xxhash64 the way FileMeta carries it.
func checksumHex(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}
