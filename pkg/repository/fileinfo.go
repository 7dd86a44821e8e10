package repository

import "fmt"

// FileInfo describes one segment file stored as one or more data blobs. Data
// blob names carry no meaning; the physical name is the file name inside the
// shard commit.
type FileInfo struct {
	BlobName     string `json:"name"`
	PhysicalName string `json:"physical_name"`
	Length       int64  `json:"length"`
	Checksum     string `json:"checksum"`
	// PartSize the file was split with at snapshot time. Zero means a
	// single blob.
	PartSize int64 `json:"part_size,omitempty"`
}

// NumParts returns how many blobs hold the file. A zero-length file is a
// single empty blob.
func (f FileInfo) NumParts() int64 {
	if f.PartSize <= 0 || f.PartSize >= f.Length {
		return 1
	}
	n := f.Length / f.PartSize
	if f.Length%f.PartSize != 0 {
		n++
	}
	return n
}

// PartName returns the blob name of part i: the plain blob name for
// single-blob files, "<name>.part<i>" otherwise.
func (f FileInfo) PartName(i int64) string {
	if f.NumParts() == 1 {
		return f.BlobName
	}
	return fmt.Sprintf("%s.part%d", f.BlobName, i)
}

// PartLength returns the byte length of part i; only the last part may be
// shorter than PartSize.
func (f FileInfo) PartLength(i int64) int64 {
	n := f.NumParts()
	if n == 1 {
		return f.Length
	}
	if i < n-1 {
		return f.PartSize
	}
	if rem := f.Length % f.PartSize; rem != 0 {
		return rem
	}
	return f.PartSize
}

// IsSame reports whether the stored file and a live file are the same
// content: identical physical name, length and checksum.
func (f FileInfo) IsSame(m FileMeta) bool {
	return f.PhysicalName == m.Name && f.Length == m.Length && f.Checksum == m.Checksum
}

// ExistsInBlobs reports whether every blob the entry points at is present in
// the listing with a consistent length. An entry whose blobs are gone must
// not be reused for deduplication.
func (f FileInfo) ExistsInBlobs(blobs map[string]int64) bool {
	n := f.NumParts()
	if n == 1 {
		length, ok := blobs[f.BlobName]
		return ok && length == f.Length
	}
	var total int64
	for i := int64(0); i < n; i++ {
		length, ok := blobs[f.PartName(i)]
		if !ok {
			return false
		}
		total += length
	}
	return total == f.Length
}
