package cache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cyverse/policycache/scheduler"
	"github.com/cyverse/policycache/utils"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	lrucache "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Key is a cache key with a stable string identifier.
// The identifier keys the metadata snapshot and names the value file.
type Key interface {
	CacheIdentifier() string
}

// StringKey is a Key whose identifier is the string itself
type StringKey string

// CacheIdentifier returns the key itself
func (key StringKey) CacheIdentifier() string {
	return string(key)
}

// DiskCacheStoreConfig is a configuration for DiskCacheStore
type DiskCacheStoreConfig[K Key, V any] struct {
	Policy                 EvictionPolicy
	SerializeErrorBehavior SerializeErrorBehavior[K, V]
	// Filesystem holds the cache directory, the local filesystem if nil
	Filesystem billy.Filesystem
	// DecodedValueCacheSize is the number of deserialized values kept in memory, 0 to disable
	DecodedValueCacheSize int
}

// NewDefaultDiskCacheStoreConfig creates a DiskCacheStoreConfig with default values
func NewDefaultDiskCacheStoreConfig[K Key, V any]() *DiskCacheStoreConfig[K, V] {
	return &DiskCacheStoreConfig[K, V]{
		Policy:                 NewDefaultEvictionPolicy(),
		SerializeErrorBehavior: ReturnNoValue[K, V](),
		Filesystem:             nil,
		DecodedValueCacheSize:  0,
	}
}

// DiskCacheStore implements CacheStore, keeps each value in a file and entry metadata in a snapshot file
type DiskCacheStore[K Key, V any] struct {
	rootPath      string
	filesystem    billy.Filesystem
	serializer    Serializer[V]
	errorBehavior SerializeErrorBehavior[K, V]
	decodedValues *lrucache.Cache // key = identifier, nil if disabled
	engine        *evictionEngine[string, diskPayload]
	mutex         sync.Mutex
}

// NewDiskCacheStore creates a new DiskCacheStore on rootPath, restoring entries left by a previous store.
// A non-directory file at rootPath is replaced with an empty directory.
func NewDiskCacheStore[K Key, V any](rootPath string, serializer Serializer[V], sched scheduler.Scheduler, config *DiskCacheStoreConfig[K, V]) (*DiskCacheStore[K, V], error) {
	if config == nil {
		config = NewDefaultDiskCacheStoreConfig[K, V]()
	}

	err := config.Policy.Validate()
	if err != nil {
		return nil, xerrors.Errorf("failed to create disk cache store: %w", err)
	}

	if serializer == nil {
		return nil, xerrors.Errorf("failed to create disk cache store: serializer is not given")
	}

	if sched == nil {
		sched = scheduler.NewRealScheduler()
	}

	filesystem := config.Filesystem
	if filesystem == nil {
		absPath, err := filepath.Abs(rootPath)
		if err != nil {
			return nil, xerrors.Errorf("failed to get absolute path of %s: %w", rootPath, err)
		}

		rootPath = absPath
		filesystem = osfs.New("/")
	}

	store := &DiskCacheStore[K, V]{
		rootPath:      rootPath,
		filesystem:    filesystem,
		serializer:    serializer,
		errorBehavior: config.SerializeErrorBehavior,
	}

	if config.DecodedValueCacheSize > 0 {
		decodedValues, err := lrucache.New(config.DecodedValueCacheSize)
		if err != nil {
			return nil, xerrors.Errorf("failed to create decoded value cache: %w", err)
		}
		store.decodedValues = decodedValues
	}

	store.engine = newEvictionEngine[string, diskPayload](config.Policy, sched, store.expire)

	err = store.prepareRootDir()
	if err != nil {
		return nil, err
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.restore()
	return store, nil
}

// Release cancels the pending invalidation timer, files are kept for a later store
func (store *DiskCacheStore[K, V]) Release() {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.engine.release()

	if store.decodedValues != nil {
		store.decodedValues.Purge()
	}
}

// GetPolicy returns eviction policy
func (store *DiskCacheStore[K, V]) GetPolicy() EvictionPolicy {
	return store.engine.policy
}

// GetRootPath returns root path of disk cache
func (store *DiskCacheStore[K, V]) GetRootPath() string {
	return store.rootPath
}

// GetTotalEntries returns total number of entries in cache
func (store *DiskCacheStore[K, V]) GetTotalEntries() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	return store.engine.index.len()
}

// GetTotalEntrySize returns total size of serialized values in cache
func (store *DiskCacheStore[K, V]) GetTotalEntrySize() int64 {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	return store.engine.index.size()
}

// GetEntryKeys returns identifiers of all entries, nearest to invalidation first
func (store *DiskCacheStore[K, V]) GetEntryKeys() []string {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	return store.engine.index.keys()
}

// HasEntry checks if the entry for the given key is present, without refreshing it
func (store *DiskCacheStore[K, V]) HasEntry(key K) bool {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	entry, ok := store.engine.index.get(key.CacheIdentifier())
	return ok && !entry.IsInvalidAt(store.engine.scheduler.Now())
}

// Get returns the value for the key.
// If the value file can't be read back, the SerializeErrorBehavior decides the result.
// The handler of the behavior is called with the store locked and must not use the store.
func (store *DiskCacheStore[K, V]) Get(key K) (V, bool) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "DiskCacheStore",
		"function": "Get",
	})

	identifier := key.CacheIdentifier()

	store.mutex.Lock()
	defer store.mutex.Unlock()

	var zero V

	result := store.engine.lookup(identifier)
	if result.expired != nil {
		err := store.removeEntryFiles([]*Entry[string, diskPayload]{result.expired})
		if err != nil {
			logger.WithError(err).Errorf("failed to remove value file of expired entry %s", identifier)
		}

		err = store.persistMetadata()
		if err != nil {
			logger.WithError(err).Error("failed to persist metadata snapshot")
		}
		return zero, false
	}

	if result.entry == nil {
		return zero, false
	}

	if result.refreshed {
		err := store.persistMetadata()
		if err != nil {
			logger.WithError(err).Error("failed to persist metadata snapshot")
		}
	}

	if store.decodedValues != nil {
		if value, ok := store.decodedValues.Get(identifier); ok {
			if typedValue, ok := value.(V); ok {
				return typedValue, true
			}
		}
	}

	value, err := store.readValue(result.entry)
	if err != nil {
		logger.WithError(err).Warnf("failed to read value for %s", identifier)
		return store.errorBehavior.resolve(key, err)
	}

	if store.decodedValues != nil {
		store.decodedValues.Add(identifier, value)
	}

	return value, true
}

// Put serializes the value and stores it for the key.
// On error the cache and its files are left as they were before the call, unless the previous
// value file can't be moved back, in which case the entry for the key is dropped.
func (store *DiskCacheStore[K, V]) Put(key K, value V) error {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "DiskCacheStore",
		"function": "Put",
	})

	identifier := key.CacheIdentifier()

	data, err := store.serializer.Serialize(value)
	if err != nil {
		return xerrors.Errorf("failed to serialize value for %s: %w", identifier, err)
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()

	tempPath, err := writeTempFile(store.filesystem, store.rootPath, data)
	if err != nil {
		return xerrors.Errorf("failed to write value for %s: %w", identifier, err)
	}

	fileName := utils.MakeHash(identifier)
	filePath := store.filesystem.Join(store.rootPath, fileName)

	// the previous value file is kept aside until the new snapshot is written
	backupPath := ""
	if _, ok := store.engine.index.get(identifier); ok {
		backupPath = makeTempPath(store.filesystem, store.rootPath)

		err = store.filesystem.Rename(filePath, backupPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				store.filesystem.Remove(tempPath)
				return xerrors.Errorf("failed to move aside cache file %s: %w", filePath, err)
			}
			backupPath = ""
		}
	}

	err = store.filesystem.Rename(tempPath, filePath)
	if err != nil {
		store.filesystem.Remove(tempPath)
		store.putBackValueFile(identifier, filePath, backupPath)
		return xerrors.Errorf("failed to rename temp file %s to %s: %w", tempPath, filePath, err)
	}

	removed := []*Entry[string, diskPayload]{}
	if oldEntry, ok := store.engine.invalidate(identifier); ok {
		removed = append(removed, oldEntry)
	}

	size := int64(len(data))
	evicted := store.engine.makeRoom(size)
	removed = append(removed, evicted...)

	store.engine.admit(identifier, size, diskPayload{fileName: fileName})

	err = store.persistMetadata()
	if err != nil {
		store.engine.rollback(identifier, removed)
		store.putBackValueFile(identifier, filePath, backupPath)
		return xerrors.Errorf("failed to store %s: %w", identifier, err)
	}

	if backupPath != "" {
		err = store.filesystem.Remove(backupPath)
		if err != nil {
			logger.WithError(err).Warnf("failed to remove previous cache file %s", backupPath)
		}
	}

	if store.decodedValues != nil {
		store.decodedValues.Remove(identifier)
	}

	err = store.removeEntryFiles(evicted)
	if err != nil {
		logger.WithError(err).Error("failed to remove value files of evicted entries")
	}
	return nil
}

// putBackValueFile undoes the file changes of a failed Put, moving the previous value file back
// or removing the new one. If that fails, the entry for the identifier is dropped.
func (store *DiskCacheStore[K, V]) putBackValueFile(identifier string, filePath string, backupPath string) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "DiskCacheStore",
		"function": "putBackValueFile",
	})

	var err error
	if backupPath != "" {
		err = store.filesystem.Rename(backupPath, filePath)
	} else if _, ok := store.engine.index.get(identifier); !ok {
		err = store.filesystem.Remove(filePath)
		if errors.Is(err, os.ErrNotExist) {
			err = nil
		}
	}

	if err == nil {
		return
	}

	logger.WithError(err).Errorf("failed to restore cache file %s, dropping entry %s", filePath, identifier)

	store.engine.invalidate(identifier)
	if store.decodedValues != nil {
		store.decodedValues.Remove(identifier)
	}

	err = store.persistMetadata()
	if err != nil {
		logger.WithError(err).Error("failed to persist metadata snapshot")
	}
}

// Invalidate removes the entry and the value file for the key
func (store *DiskCacheStore[K, V]) Invalidate(key K) error {
	identifier := key.CacheIdentifier()

	store.mutex.Lock()
	defer store.mutex.Unlock()

	entry, ok := store.engine.invalidate(identifier)
	if !ok {
		return nil
	}

	removeErr := store.removeEntryFiles([]*Entry[string, diskPayload]{entry})
	persistErr := store.persistMetadata()

	if removeErr != nil {
		return xerrors.Errorf("failed to invalidate %s: %w", identifier, removeErr)
	}
	if persistErr != nil {
		return xerrors.Errorf("failed to invalidate %s: %w", identifier, persistErr)
	}
	return nil
}

// InvalidateAll removes all entries and value files
func (store *DiskCacheStore[K, V]) InvalidateAll() error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.engine.invalidateAll()

	if store.decodedValues != nil {
		store.decodedValues.Purge()
	}

	// the index is empty, so every value file is unreferenced
	_, removeErr := store.removeUnreferencedFiles()
	persistErr := store.persistMetadata()

	if removeErr != nil {
		return xerrors.Errorf("failed to invalidate all entries: %w", removeErr)
	}
	if persistErr != nil {
		return xerrors.Errorf("failed to invalidate all entries: %w", persistErr)
	}
	return nil
}

func (store *DiskCacheStore[K, V]) expire(identifier string, generation uint64) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "DiskCacheStore",
		"function": "expire",
	})

	store.mutex.Lock()
	defer store.mutex.Unlock()

	entry, ok := store.engine.expire(identifier, generation)
	if !ok {
		return
	}

	logger.Debugf("invalidated expired entry %s", identifier)

	err := store.removeEntryFiles([]*Entry[string, diskPayload]{entry})
	if err != nil {
		logger.WithError(err).Errorf("failed to remove value file of expired entry %s", identifier)
	}

	err = store.persistMetadata()
	if err != nil {
		logger.WithError(err).Error("failed to persist metadata snapshot")
	}
}

func (store *DiskCacheStore[K, V]) prepareRootDir() error {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "DiskCacheStore",
		"function": "prepareRootDir",
	})

	info, err := store.filesystem.Stat(store.rootPath)
	if err == nil {
		if info.IsDir() {
			return nil
		}

		logger.Warnf("replacing non-directory file %s with a cache dir", store.rootPath)
		err = store.filesystem.Remove(store.rootPath)
		if err != nil {
			return xerrors.Errorf("failed to remove file %s: %w", store.rootPath, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return xerrors.Errorf("failed to stat dir %s: %w", store.rootPath, err)
	}

	err = store.filesystem.MkdirAll(store.rootPath, 0o755)
	if err != nil {
		return xerrors.Errorf("failed to make dir %s: %w", store.rootPath, err)
	}
	return nil
}

// restore rebuilds the index from the metadata snapshot. A missing or corrupt snapshot gives an empty cache.
// Entries already expired or without a value file are dropped.
func (store *DiskCacheStore[K, V]) restore() {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "DiskCacheStore",
		"function": "restore",
	})

	metadataPath := store.filesystem.Join(store.rootPath, diskMetadataFileName)
	dirty := false

	entries := []*Entry[string, diskPayload]{}
	data, err := util.ReadFile(store.filesystem, metadataPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.WithError(err).Warnf("failed to read metadata snapshot %s, starting empty", metadataPath)
			dirty = true
		}
	} else {
		entries, err = unmarshalDiskMetadata(data)
		if err != nil {
			logger.WithError(err).Warnf("failed to parse metadata snapshot %s, starting empty", metadataPath)
			entries = nil
			dirty = true
		}
	}

	now := store.engine.scheduler.Now()
	for _, entry := range entries {
		if entry.IsInvalidAt(now) {
			logger.Debugf("dropping expired entry %s", entry.Key)
			dirty = true
			continue
		}

		info, err := store.filesystem.Stat(store.filesystem.Join(store.rootPath, entry.Payload.fileName))
		if err != nil {
			logger.WithError(err).Warnf("dropping entry %s without value file", entry.Key)
			dirty = true
			continue
		}

		if info.Size() != entry.Size {
			logger.Warnf("dropping entry %s, value file has %d bytes but %d recorded", entry.Key, info.Size(), entry.Size)
			dirty = true
			continue
		}

		store.engine.restore(entry)
	}

	store.engine.reschedule()

	removed, err := store.removeUnreferencedFiles()
	if err != nil {
		logger.WithError(err).Warn("failed to remove unreferenced files")
	}
	if removed > 0 {
		logger.Debugf("removed %d unreferenced files", removed)
	}

	if dirty {
		err = store.persistMetadata()
		if err != nil {
			logger.WithError(err).Error("failed to persist metadata snapshot")
		}
	}

	logger.Debugf("restored %d entries (%d bytes) from %s", store.engine.index.len(), store.engine.index.size(), store.rootPath)
}

func (store *DiskCacheStore[K, V]) readValue(entry *Entry[string, diskPayload]) (V, error) {
	filePath := store.filesystem.Join(store.rootPath, entry.Payload.fileName)

	data, err := util.ReadFile(store.filesystem, filePath)
	if err != nil {
		var zero V
		return zero, xerrors.Errorf("failed to read cache file %s: %w", filePath, err)
	}

	value, err := store.serializer.Deserialize(data)
	if err != nil {
		var zero V
		return zero, xerrors.Errorf("failed to deserialize cache file %s: %w", filePath, err)
	}
	return value, nil
}

// removeEntryFiles deletes value files of removed entries, returns the first error
func (store *DiskCacheStore[K, V]) removeEntryFiles(entries []*Entry[string, diskPayload]) error {
	var firstErr error
	for _, entry := range entries {
		if store.decodedValues != nil {
			store.decodedValues.Remove(entry.Key)
		}

		filePath := store.filesystem.Join(store.rootPath, entry.Payload.fileName)
		err := store.filesystem.Remove(filePath)
		if err != nil && !errors.Is(err, os.ErrNotExist) && firstErr == nil {
			firstErr = xerrors.Errorf("failed to remove cache file %s: %w", filePath, err)
		}
	}
	return firstErr
}

// removeUnreferencedFiles deletes value files not in the index and leftover temp files
func (store *DiskCacheStore[K, V]) removeUnreferencedFiles() (int, error) {
	infos, err := store.filesystem.ReadDir(store.rootPath)
	if err != nil {
		return 0, xerrors.Errorf("failed to list dir %s: %w", store.rootPath, err)
	}

	referenced := map[string]bool{}
	for _, entry := range store.engine.index.entries {
		referenced[entry.Payload.fileName] = true
	}

	removed := 0
	var firstErr error
	for _, info := range infos {
		if info.IsDir() {
			continue
		}

		name := info.Name()
		isTemp := strings.HasPrefix(name, diskTempFilePrefix)
		isUnreferencedValue := utils.IsHashString(name) && !referenced[name]
		if !isTemp && !isUnreferencedValue {
			continue
		}

		filePath := store.filesystem.Join(store.rootPath, name)
		err := store.filesystem.Remove(filePath)
		if err != nil {
			if firstErr == nil {
				firstErr = xerrors.Errorf("failed to remove file %s: %w", filePath, err)
			}
			continue
		}
		removed++
	}

	return removed, firstErr
}

// persistMetadata rewrites the metadata snapshot with all entries
func (store *DiskCacheStore[K, V]) persistMetadata() error {
	data, err := marshalDiskMetadata(store.engine.index.sorted())
	if err != nil {
		return err
	}

	err = writeFileAtomically(store.filesystem, store.rootPath, diskMetadataFileName, data)
	if err != nil {
		return xerrors.Errorf("failed to persist metadata snapshot: %w", err)
	}
	return nil
}
