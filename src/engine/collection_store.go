package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"relaydb/src/helpers"
)

// CollectionStore is the storage boundary the query engine reads from and
// the write path appends to. GetCollection returns records in insertion
// order; callers must not mutate the returned slice or its records.
type CollectionStore interface {
	GetCollection(name string) ([]Record, error)
	HasCollection(name string) bool
	CollectionNames() ([]string, error)
	CreateCollection(name string) error

	// Store appends a record. Records are never updated in place: storing a
	// record with an existing primary key appends a new version, and readers
	// resolve the current state by latest timestamp.
	Store(collection string, record Record) (Record, error)
}

// CollectionStorageEngine keeps one bson data file per collection under the
// data directory, with an LRU cache of decoded collections in front of the
// files and an append-only journal ahead of every write.
type CollectionStorageEngine struct {
	dataDirectory string
	cache         *lru.Cache[string, []Record]
	journal       *Journal
	logger        *zap.SugaredLogger
	mu            sync.RWMutex
}

// collectionFile is the on-disk shape of a collection data file.
type collectionFile struct {
	Name      string   `bson:"name"`
	Documents []Record `bson:"documents"`
}

const collectionFileExt = ".col"

// NewCollectionStore creates a collection store rooted at dataDir.
func NewCollectionStore(dataDir string, cacheSize int, journal *Journal, logger *zap.SugaredLogger) (*CollectionStorageEngine, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	if cacheSize <= 0 {
		cacheSize = 64
	}
	cache, err := lru.New[string, []Record](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection cache: %w", err)
	}

	return &CollectionStorageEngine{
		dataDirectory: dataDir,
		cache:         cache,
		journal:       journal,
		logger:        logger,
	}, nil
}

func (s *CollectionStorageEngine) filePath(name string) string {
	return filepath.Join(s.dataDirectory, name+collectionFileExt)
}

// GetCollection returns the records of a collection in insertion order. An
// unknown collection is a QueryError, not a transport failure.
func (s *CollectionStorageEngine) GetCollection(name string) ([]Record, error) {
	s.mu.RLock()
	if records, ok := s.cache.Get(name); ok {
		s.mu.RUnlock()
		return records, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the write lock; another reader may have loaded it.
	if records, ok := s.cache.Get(name); ok {
		return records, nil
	}

	records, err := s.loadCollectionFile(name)
	if err != nil {
		return nil, err
	}

	s.cache.Add(name, records)
	return records, nil
}

func (s *CollectionStorageEngine) loadCollectionFile(name string) ([]Record, error) {
	filePath := s.filePath(name)
	if !helpers.FileExists(filePath, s.logger) {
		return nil, NewQueryError(ErrUnknownCollection, "collection '%s' does not exist", name)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading collection file %s: %w", name, err)
	}

	var file collectionFile
	if err := bson.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error decoding collection file %s: %w", name, err)
	}

	return file.Documents, nil
}

// HasCollection reports whether a data file exists for the collection.
func (s *CollectionStorageEngine) HasCollection(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache.Contains(name) {
		return true
	}
	return helpers.FileExists(s.filePath(name), s.logger)
}

// CollectionNames lists every collection with a data file, sorted by name.
func (s *CollectionStorageEngine) CollectionNames() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dataDirectory)
	if err != nil {
		return nil, fmt.Errorf("error listing data directory %s: %w", s.dataDirectory, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), collectionFileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), collectionFileExt))
	}
	sort.Strings(names)
	return names, nil
}

// CreateCollection creates an empty collection data file. Creating a
// collection that already exists is an error.
func (s *CollectionStorageEngine) CreateCollection(name string) error {
	if name == "" {
		return NewQueryError(ErrMalformedSpec, "collection name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if helpers.FileExists(s.filePath(name), s.logger) {
		return fmt.Errorf("collection '%s' already exists", name)
	}

	return s.writeCollectionFile(name, []Record{})
}

// Store journals and appends a record to a collection, creating the
// collection on first write. A missing primary key is assigned.
func (s *CollectionStorageEngine) Store(collection string, record Record) (Record, error) {
	if collection == "" {
		return nil, NewQueryError(ErrMalformedSpec, "collection name must not be empty")
	}
	if record == nil {
		return nil, fmt.Errorf("record cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := record.Clone()
	if stored.ID() == "" {
		stored[PrimaryKeyField] = helpers.GenerateUUID()
	}

	var records []Record
	if existing, ok := s.cache.Get(collection); ok {
		records = existing
	} else if helpers.FileExists(s.filePath(collection), s.logger) {
		loaded, err := s.loadCollectionFile(collection)
		if err != nil {
			return nil, err
		}
		records = loaded
	}

	if s.journal != nil {
		if err := s.journal.AddEntry(collection, stored.ID(), "store"); err != nil {
			return nil, fmt.Errorf("failed to journal write to collection '%s': %w", collection, err)
		}
	}

	// Append, never replace: the previous slice may be shared with readers.
	updated := make([]Record, len(records), len(records)+1)
	copy(updated, records)
	updated = append(updated, stored)

	if err := s.writeCollectionFile(collection, updated); err != nil {
		return nil, err
	}

	s.cache.Add(collection, updated)

	if s.logger != nil {
		s.logger.Infow("Stored record",
			"collection", collection,
			"recordID", stored.ID(),
			"size", len(updated))
	}

	return stored, nil
}

func (s *CollectionStorageEngine) writeCollectionFile(name string, records []Record) error {
	file := collectionFile{Name: name, Documents: records}

	encoded, err := bson.Marshal(file)
	if err != nil {
		return fmt.Errorf("error encoding collection '%s': %w", name, err)
	}

	filePath := s.filePath(name)
	if err := os.WriteFile(filePath, encoded, 0644); err != nil {
		return fmt.Errorf("error writing collection data file %s: %w", name, err)
	}

	return nil
}
