package cache

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/cyverse/policycache/utils"
	"github.com/go-git/go-billy/v5"
	"github.com/rs/xid"
	"golang.org/x/xerrors"
)

const (
	diskMetadataFileName = "metadata.json"
	diskTempFilePrefix   = ".tmp-"
)

// diskPayload references the file holding a value
type diskPayload struct {
	fileName string
}

// diskMetadataEntry is the persisted form of an entry, without its value
type diskMetadataEntry struct {
	Size             int64   `json:"size"`
	InvalidationDate *string `json:"invalidation_date"`
	Order            int     `json:"order"`
}

// diskMetadataSnapshot is the persisted metadata of a DiskCacheStore, keyed by key identifier
type diskMetadataSnapshot struct {
	Entries map[string]diskMetadataEntry `json:"entries"`
}

func makeDiskMetadataSnapshot(entries []*Entry[string, diskPayload]) *diskMetadataSnapshot {
	snapshot := &diskMetadataSnapshot{
		Entries: make(map[string]diskMetadataEntry, len(entries)),
	}

	for order, entry := range entries {
		metadataEntry := diskMetadataEntry{
			Size:  entry.Size,
			Order: order,
		}

		if entry.HasInvalidationDate() {
			date := utils.MakeTimeToString(entry.InvalidationDate)
			metadataEntry.InvalidationDate = &date
		}

		snapshot.Entries[entry.Key] = metadataEntry
	}

	return snapshot
}

// marshalDiskMetadata serializes entries given in invalidation order
func marshalDiskMetadata(entries []*Entry[string, diskPayload]) ([]byte, error) {
	data, err := json.Marshal(makeDiskMetadataSnapshot(entries))
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal metadata snapshot: %w", err)
	}
	return data, nil
}

// unmarshalDiskMetadata parses a snapshot, returning entries in their persisted order.
// Any malformed entry invalidates the whole snapshot.
func unmarshalDiskMetadata(data []byte) ([]*Entry[string, diskPayload], error) {
	snapshot := diskMetadataSnapshot{}
	err := json.Unmarshal(data, &snapshot)
	if err != nil {
		return nil, xerrors.Errorf("failed to unmarshal metadata snapshot: %w", err)
	}

	if snapshot.Entries == nil {
		return nil, xerrors.Errorf("metadata snapshot has no entries field")
	}

	type orderedEntry struct {
		order int
		entry *Entry[string, diskPayload]
	}

	orderedEntries := make([]orderedEntry, 0, len(snapshot.Entries))
	for identifier, metadataEntry := range snapshot.Entries {
		if metadataEntry.Size < 0 {
			return nil, xerrors.Errorf("negative size %d for key %s in metadata snapshot", metadataEntry.Size, identifier)
		}

		entry := &Entry[string, diskPayload]{
			Key:  identifier,
			Size: metadataEntry.Size,
			Payload: diskPayload{
				fileName: utils.MakeHash(identifier),
			},
		}

		if metadataEntry.InvalidationDate != nil {
			date, err := utils.ParseTime(*metadataEntry.InvalidationDate)
			if err != nil {
				return nil, xerrors.Errorf("failed to parse invalidation date for key %s: %w", identifier, err)
			}
			entry.InvalidationDate = date
		}

		orderedEntries = append(orderedEntries, orderedEntry{
			order: metadataEntry.Order,
			entry: entry,
		})
	}

	sort.SliceStable(orderedEntries, func(i, j int) bool {
		if orderedEntries[i].order != orderedEntries[j].order {
			return orderedEntries[i].order < orderedEntries[j].order
		}
		return orderedEntries[i].entry.Key < orderedEntries[j].entry.Key
	})

	entries := make([]*Entry[string, diskPayload], 0, len(orderedEntries))
	for _, orderedEntry := range orderedEntries {
		entries = append(entries, orderedEntry.entry)
	}
	return entries, nil
}

// makeTempPath returns a new unique temp file path in dirPath, removed on restore if left behind
func makeTempPath(filesystem billy.Filesystem, dirPath string) string {
	return filesystem.Join(dirPath, diskTempFilePrefix+xid.New().String())
}

// writeTempFile writes data to a new temp file in dirPath and returns its path
func writeTempFile(filesystem billy.Filesystem, dirPath string, data []byte) (string, error) {
	tempPath := makeTempPath(filesystem, dirPath)

	f, err := filesystem.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", xerrors.Errorf("failed to create temp file %s: %w", tempPath, err)
	}

	_, err = f.Write(data)
	if err != nil {
		f.Close()
		filesystem.Remove(tempPath)
		return "", xerrors.Errorf("failed to write temp file %s: %w", tempPath, err)
	}

	err = f.Close()
	if err != nil {
		filesystem.Remove(tempPath)
		return "", xerrors.Errorf("failed to close temp file %s: %w", tempPath, err)
	}

	return tempPath, nil
}

// writeFileAtomically replaces the file named fileName in dirPath with data, the previous file is kept on failure
func writeFileAtomically(filesystem billy.Filesystem, dirPath string, fileName string, data []byte) error {
	filePath := filesystem.Join(dirPath, fileName)

	tempPath, err := writeTempFile(filesystem, dirPath, data)
	if err != nil {
		return err
	}

	err = filesystem.Rename(tempPath, filePath)
	if err != nil {
		filesystem.Remove(tempPath)
		return xerrors.Errorf("failed to rename temp file %s to %s: %w", tempPath, filePath, err)
	}
	return nil
}
