package repository

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ShardFileCatalog is the per-shard "index-<G>" blob: the unique set of data
// blobs in the shard directory and, per snapshot, which of them make up that
// snapshot's file list. It is the structure that makes incremental snapshots
// work; losing it is recoverable by re-reading every shard manifest.
type ShardFileCatalog struct {
	// Generation the catalog was loaded from, -1 when the shard has none.
	Generation int64

	files     map[string]FileInfo // keyed by blob name
	snapshots map[string][]string // snapshot name -> ordered blob names
	physical  map[string][]FileInfo
}

func NewShardFileCatalog() *ShardFileCatalog {
	return &ShardFileCatalog{
		Generation: -1,
		files:      map[string]FileInfo{},
		snapshots:  map[string][]string{},
		physical:   map[string][]FileInfo{},
	}
}

type shardCatalogRecord struct {
	Files     []FileInfo          `json:"files"`
	Snapshots map[string][]string `json:"snapshots"`
}

func (c *ShardFileCatalog) MarshalJSON() ([]byte, error) {
	rec := shardCatalogRecord{
		Files:     make([]FileInfo, 0, len(c.files)),
		Snapshots: make(map[string][]string, len(c.snapshots)),
	}
	for _, info := range c.files {
		rec.Files = append(rec.Files, info)
	}
	sort.Slice(rec.Files, func(i, j int) bool { return rec.Files[i].BlobName < rec.Files[j].BlobName })
	for name, blobs := range c.snapshots {
		rec.Snapshots[name] = append([]string(nil), blobs...)
	}
	return json.Marshal(rec)
}

func (c *ShardFileCatalog) UnmarshalJSON(data []byte) error {
	var rec shardCatalogRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	c.files = make(map[string]FileInfo, len(rec.Files))
	c.physical = map[string][]FileInfo{}
	for _, info := range rec.Files {
		c.files[info.BlobName] = info
	}
	c.snapshots = make(map[string][]string, len(rec.Snapshots))
	for name, blobs := range rec.Snapshots {
		for _, blob := range blobs {
			if _, ok := c.files[blob]; !ok {
				return fmt.Errorf("%w: shard catalog snapshot %q references unknown blob %q", ErrCorruptedRepository, name, blob)
			}
		}
		c.snapshots[name] = blobs
	}
	c.reindex()
	return nil
}

// reindex rebuilds the physical-name lookup from the unique file set.
func (c *ShardFileCatalog) reindex() {
	c.physical = make(map[string][]FileInfo, len(c.files))
	for _, info := range c.files {
		c.physical[info.PhysicalName] = append(c.physical[info.PhysicalName], info)
	}
	for _, infos := range c.physical {
		sort.Slice(infos, func(i, j int) bool { return infos[i].BlobName < infos[j].BlobName })
	}
}

// HasSnapshot reports whether the catalog holds an entry for the snapshot
// name.
func (c *ShardFileCatalog) HasSnapshot(name string) bool {
	_, ok := c.snapshots[name]
	return ok
}

// SnapshotNames returns the snapshot names in the catalog, sorted.
func (c *ShardFileCatalog) SnapshotNames() []string {
	names := make([]string, 0, len(c.snapshots))
	for name := range c.snapshots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Files returns the ordered file list of a snapshot.
func (c *ShardFileCatalog) Files(snapshotName string) ([]FileInfo, bool) {
	blobs, ok := c.snapshots[snapshotName]
	if !ok {
		return nil, false
	}
	res := make([]FileInfo, len(blobs))
	for i, blob := range blobs {
		res[i] = c.files[blob]
	}
	return res, true
}

// FindPhysical returns every stored version of a physical file name.
func (c *ShardFileCatalog) FindPhysical(name string) []FileInfo {
	return c.physical[name]
}

// ReferencedBlobs returns every blob name (including parts) reachable from
// any snapshot entry. Blobs outside this set are garbage.
func (c *ShardFileCatalog) ReferencedBlobs() map[string]struct{} {
	res := make(map[string]struct{}, len(c.files))
	for _, info := range c.files {
		for i := int64(0); i < info.NumParts(); i++ {
			res[info.PartName(i)] = struct{}{}
		}
	}
	return res
}

// WithSnapshot returns a copy with the snapshot's file list added. The
// receiver is left unchanged; the copy carries the receiver's generation.
func (c *ShardFileCatalog) WithSnapshot(snapshotName string, files []FileInfo) *ShardFileCatalog {
	next := c.clone()
	blobs := make([]string, len(files))
	for i, info := range files {
		next.files[info.BlobName] = info
		blobs[i] = info.BlobName
	}
	next.snapshots[snapshotName] = blobs
	next.reindex()
	return next
}

// WithoutSnapshot returns a copy with the snapshot's entry removed and any
// file no surviving snapshot references dropped.
func (c *ShardFileCatalog) WithoutSnapshot(snapshotName string) *ShardFileCatalog {
	next := c.clone()
	delete(next.snapshots, snapshotName)
	referenced := map[string]struct{}{}
	for _, blobs := range next.snapshots {
		for _, blob := range blobs {
			referenced[blob] = struct{}{}
		}
	}
	for blob := range next.files {
		if _, ok := referenced[blob]; !ok {
			delete(next.files, blob)
		}
	}
	next.reindex()
	return next
}

func (c *ShardFileCatalog) clone() *ShardFileCatalog {
	next := &ShardFileCatalog{
		Generation: c.Generation,
		files:      make(map[string]FileInfo, len(c.files)),
		snapshots:  make(map[string][]string, len(c.snapshots)),
	}
	for blob, info := range c.files {
		next.files[blob] = info
	}
	for name, blobs := range c.snapshots {
		next.snapshots[name] = append([]string(nil), blobs...)
	}
	return next
}
