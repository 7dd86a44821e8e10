package repository

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Blob naming, shared by the root container and the shard directories:
//
//	index-<N>                  catalog, N = decimal generation
//	index.latest               8-byte big-endian latest root generation
//	snap-<snapshotID>.dat      snapshot manifest (root) / shard manifest (shard)
//	meta-<snapshotID>.dat      global metadata (root) / index metadata (index)
//	indices/<indexID>/<shard>/ shard directory
//	__<uuid>[.part<i>]         data blobs
//	tests-<seed>/              verification probe
const (
	catalogPrefix       = "index-"
	indexLatestBlobName = "index.latest"
	snapshotPrefix      = "snap-"
	metadataPrefix      = "meta-"
	manifestSuffix      = ".dat"
	dataBlobPrefix      = "__"
	indicesDirName      = "indices"
	verificationPrefix  = "tests-"
	masterProbeBlobName = "master.dat"
	nodeProbePrefix     = "data-"
)

func catalogBlobName(gen int64) string {
	return fmt.Sprintf("%s%d", catalogPrefix, gen)
}

// parseCatalogGeneration extracts N from "index-<N>". Returns false for
// anything else, including "index.latest".
func parseCatalogGeneration(name string) (int64, bool) {
	suffix, found := strings.CutPrefix(name, catalogPrefix)
	if !found {
		return 0, false
	}
	gen, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil || gen < 0 {
		return 0, false
	}
	return gen, true
}

func snapshotManifestBlobName(snapshotID string) string {
	return snapshotPrefix + snapshotID + manifestSuffix
}

func metadataBlobName(snapshotID string) string {
	return metadataPrefix + snapshotID + manifestSuffix
}

// manifestBlobID returns the snapshot ID embedded in a "snap-<id>.dat" or
// "meta-<id>.dat" blob name.
func manifestBlobID(name string) (string, bool) {
	if !strings.HasSuffix(name, manifestSuffix) {
		return "", false
	}
	trimmed := strings.TrimSuffix(name, manifestSuffix)
	for _, prefix := range []string{snapshotPrefix, metadataPrefix} {
		if id, found := strings.CutPrefix(trimmed, prefix); found && id != "" {
			return id, true
		}
	}
	return "", false
}

func newDataBlobName() string {
	return dataBlobPrefix + uuid.NewString()
}

func isDataBlobName(name string) bool {
	return strings.HasPrefix(name, dataBlobPrefix)
}

func verificationDirName(seed string) string {
	return verificationPrefix + seed
}

func nodeProbeBlobName(nodeID string) string {
	return nodeProbePrefix + nodeID + manifestSuffix
}

func shardDirName(shard int) string {
	return strconv.Itoa(shard)
}
