package repository

import (
	"encoding/json"
	"sort"
)

// SnapshotState is the terminal (or in-flight) state of a snapshot as
// recorded in the catalog and the snapshot manifest.
type SnapshotState string

const (
	SnapshotStateInProgress SnapshotState = "in_progress"
	SnapshotStateSuccess    SnapshotState = "success"
	// SnapshotStatePartial marks a snapshot where some shards failed but
	// the surviving shards are fully usable for restore.
	SnapshotStatePartial SnapshotState = "partial"
	SnapshotStateFailed  SnapshotState = "failed"
)

// SnapshotRef identifies one snapshot in the catalog.
type SnapshotRef struct {
	Name  string        `json:"name"`
	ID    string        `json:"uuid"`
	State SnapshotState `json:"state"`
}

// IndexRef identifies one index in the catalog. The ID is stable for the
// lifetime of the index name inside a repository, so consecutive snapshots of
// the same index share a shard directory and deduplicate data blobs.
type IndexRef struct {
	Name string
	ID   string
	// Snapshots holds the IDs of the snapshots that contain this index.
	Snapshots []string
}

// Catalog is the root index of the repository: which snapshots exist, which
// indices they cover, and which snapshot IDs reference each index. A Catalog
// value is immutable; mutations return copies, and only writeCatalog
// publishes them.
type Catalog struct {
	// Generation the catalog was loaded from, -1 for an empty repository.
	// Derived from the blob name, never serialized.
	Generation int64

	Snapshots []SnapshotRef
	// Indices keyed by index name.
	Indices map[string]IndexRef
}

// EmptyCatalog is the state of a repository no writer has touched yet.
func EmptyCatalog() *Catalog {
	return &Catalog{Generation: -1, Indices: map[string]IndexRef{}}
}

type catalogRecord struct {
	Snapshots []SnapshotRef          `json:"snapshots"`
	Indices   map[string]indexRecord `json:"indices"`
}

type indexRecord struct {
	ID        string   `json:"id"`
	Snapshots []string `json:"snapshots"`
}

func (c *Catalog) MarshalJSON() ([]byte, error) {
	rec := catalogRecord{
		Snapshots: append([]SnapshotRef(nil), c.Snapshots...),
		Indices:   make(map[string]indexRecord, len(c.Indices)),
	}
	sort.Slice(rec.Snapshots, func(i, j int) bool { return rec.Snapshots[i].Name < rec.Snapshots[j].Name })
	for name, index := range c.Indices {
		ids := append([]string(nil), index.Snapshots...)
		sort.Strings(ids)
		rec.Indices[name] = indexRecord{ID: index.ID, Snapshots: ids}
	}
	return json.Marshal(rec)
}

func (c *Catalog) UnmarshalJSON(data []byte) error {
	var rec catalogRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	c.Snapshots = rec.Snapshots
	c.Indices = make(map[string]IndexRef, len(rec.Indices))
	for name, index := range rec.Indices {
		c.Indices[name] = IndexRef{Name: name, ID: index.ID, Snapshots: index.Snapshots}
	}
	return nil
}

// Snapshot looks a snapshot up by name.
func (c *Catalog) Snapshot(name string) (SnapshotRef, bool) {
	for _, ref := range c.Snapshots {
		if ref.Name == name {
			return ref, true
		}
	}
	return SnapshotRef{}, false
}

// HasSnapshotID reports whether any snapshot in the catalog has the given ID.
func (c *Catalog) HasSnapshotID(id string) bool {
	for _, ref := range c.Snapshots {
		if ref.ID == id {
			return true
		}
	}
	return false
}

// ResolveIndexID returns the existing ID for an index name, or assigns the
// provided one for a name the catalog has never seen.
func (c *Catalog) ResolveIndexID(name, fresh string) string {
	if index, ok := c.Indices[name]; ok {
		return index.ID
	}
	return fresh
}

// IndicesOf returns the indices referenced by the given snapshot ID, sorted
// by name.
func (c *Catalog) IndicesOf(snapshotID string) []IndexRef {
	var res []IndexRef
	for _, index := range c.Indices {
		for _, id := range index.Snapshots {
			if id == snapshotID {
				res = append(res, index)
				break
			}
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// IndexIDs returns the set of index IDs present in the catalog.
func (c *Catalog) IndexIDs() map[string]struct{} {
	res := make(map[string]struct{}, len(c.Indices))
	for _, index := range c.Indices {
		res[index.ID] = struct{}{}
	}
	return res
}

// WithSnapshot returns a copy with the snapshot added and its ID referenced
// from every covered index. The receiver is left unchanged.
func (c *Catalog) WithSnapshot(ref SnapshotRef, indices []IndexRef) *Catalog {
	next := &Catalog{
		Generation: c.Generation,
		Snapshots:  append(append([]SnapshotRef(nil), c.Snapshots...), ref),
		Indices:    make(map[string]IndexRef, len(c.Indices)+len(indices)),
	}
	for name, index := range c.Indices {
		next.Indices[name] = IndexRef{
			Name:      index.Name,
			ID:        index.ID,
			Snapshots: append([]string(nil), index.Snapshots...),
		}
	}
	for _, index := range indices {
		existing, ok := next.Indices[index.Name]
		if !ok {
			existing = IndexRef{Name: index.Name, ID: index.ID}
		}
		if !containsString(existing.Snapshots, ref.ID) {
			existing.Snapshots = append(existing.Snapshots, ref.ID)
		}
		next.Indices[index.Name] = existing
	}
	return next
}

// Clone returns a deep copy.
func (c *Catalog) Clone() *Catalog {
	next := &Catalog{
		Generation: c.Generation,
		Snapshots:  append([]SnapshotRef(nil), c.Snapshots...),
		Indices:    make(map[string]IndexRef, len(c.Indices)),
	}
	for name, index := range c.Indices {
		next.Indices[name] = IndexRef{
			Name:      index.Name,
			ID:        index.ID,
			Snapshots: append([]string(nil), index.Snapshots...),
		}
	}
	return next
}

// WithoutSnapshot returns a copy with the snapshot removed. Indices no other
// snapshot references are dropped, which is what marks their directories
// stale for the cleanup sweep.
func (c *Catalog) WithoutSnapshot(snapshotID string) *Catalog {
	next := &Catalog{
		Generation: c.Generation,
		Indices:    make(map[string]IndexRef, len(c.Indices)),
	}
	for _, ref := range c.Snapshots {
		if ref.ID != snapshotID {
			next.Snapshots = append(next.Snapshots, ref)
		}
	}
	for name, index := range c.Indices {
		var ids []string
		for _, id := range index.Snapshots {
			if id != snapshotID {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			next.Indices[name] = IndexRef{Name: index.Name, ID: index.ID, Snapshots: ids}
		}
	}
	return next
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
