package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ggagosh/argus/internal/ingest"
	"github.com/ggagosh/argus/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no snapshot or selection is stored
var ErrNotFound = errors.New("not found")

// ErrEntryTooLarge is returned when a single entry cannot be stored
var ErrEntryTooLarge = errors.New("profiler entry exceeds the storage chunk size")

// Snapshot is the profiler log currently under analysis. Entries of a
// loaded snapshot may be shared with the store and must not be modified.
type Snapshot struct {
	ID        string
	Source    string
	Entries   []models.LogEntry
	UpdatedAt time.Time
}

// SnapshotStore keeps the latest snapshot and the selected operation.
// SaveSnapshot replaces the snapshot and clears the selection;
// UpdateSnapshot replaces it and keeps the selection.
type SnapshotStore interface {
	SnapshotID(ctx context.Context) (string, error)
	LoadSnapshot(ctx context.Context) (*Snapshot, error)
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	UpdateSnapshot(ctx context.Context, snap *Snapshot) error
	LoadSelection(ctx context.Context) (int, error)
	SaveSelection(ctx context.Context, index int) error
	Clear(ctx context.Context) error
	Close(ctx context.Context) error
}

// MemoryStore is a process-local SnapshotStore
type MemoryStore struct {
	mu        sync.RWMutex
	snapshot  *Snapshot
	selection *int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SnapshotID(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return "", ErrNotFound
	}
	return s.snapshot.ID, nil
}

func (s *MemoryStore) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return nil, ErrNotFound
	}
	return shareSnapshot(s.snapshot), nil
}

func (s *MemoryStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = shareSnapshot(snap)
	s.selection = nil
	return nil
}

func (s *MemoryStore) UpdateSnapshot(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = shareSnapshot(snap)
	return nil
}

func (s *MemoryStore) LoadSelection(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selection == nil {
		return 0, ErrNotFound
	}
	return *s.selection, nil
}

func (s *MemoryStore) SaveSelection(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = &index
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = nil
	s.selection = nil
	return nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}

// shareSnapshot copies the header and caps the entries slice so an append
// by the holder never writes into the other copy's backing array
func shareSnapshot(snap *Snapshot) *Snapshot {
	out := *snap
	out.Entries = snap.Entries[:len(snap.Entries):len(snap.Entries)]
	return &out
}

const (
	snapshotDocID  = "snapshot"
	selectionDocID = "selection"
	chunkKind      = "chunk"

	// DefaultChunkBytes keeps every chunk document well under MongoDB's 16 MiB limit
	DefaultChunkBytes = 8 << 20
)

// MongoStoreConfig configures the MongoDB-backed store
type MongoStoreConfig struct {
	URI                string
	Database           string
	Collection         string
	CertificateKeyFile string
	MaxPoolSize        int
	TTLDays            int
}

// MongoStore persists the snapshot in a MongoDB collection so it survives
// restarts. A header document points at chunk documents that each hold a
// JSON array of entries. JSON text is used because profiler filters are
// full of $-prefixed keys, which MongoDB does not accept as field names
// everywhere.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.Logger
	ttlDays    int
	chunkBytes int
}

type snapshotDoc struct {
	ID         string    `bson:"_id"`
	SnapshotID string    `bson:"snapshot_id"`
	Source     string    `bson:"source"`
	Count      int       `bson:"count"`
	Chunks     int       `bson:"chunks"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

type chunkDoc struct {
	ID         string    `bson:"_id"`
	Kind       string    `bson:"kind"`
	SnapshotID string    `bson:"snapshot_id"`
	Seq        int       `bson:"seq"`
	Entries    string    `bson:"entries_json"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

type selectionDoc struct {
	ID        string    `bson:"_id"`
	Index     int       `bson:"index"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoStore connects to MongoDB and prepares the collection
func NewMongoStore(cfg MongoStoreConfig, logger *zap.Logger) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	uri := cfg.URI
	clientOpts := options.Client().ApplyURI(uri)
	clientOpts.SetMaxPoolSize(uint64(cfg.MaxPoolSize))

	// X.509 authentication
	if cfg.CertificateKeyFile != "" {
		if strings.Contains(uri, "?") {
			uri = uri + "&tlsCertificateKeyFile=" + cfg.CertificateKeyFile
		} else {
			uri = uri + "?tlsCertificateKeyFile=" + cfg.CertificateKeyFile
		}
		clientOpts.SetAuth(options.Credential{
			AuthMechanism: "MONGODB-X509",
		})
		clientOpts.ApplyURI(uri)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Connected to MongoDB",
		zap.String("database", cfg.Database),
		zap.String("collection", cfg.Collection),
		zap.Int("max_pool_size", cfg.MaxPoolSize))

	s := &MongoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		logger:     logger,
		ttlDays:    cfg.TTLDays,
		chunkBytes: DefaultChunkBytes,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		logger.Error("Failed to ensure indexes", zap.Error(err))
	}
	return s, nil
}

// ensureIndexes creates the chunk lookup index and, when configured, the
// TTL index on updated_at
func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{{
		Keys:    bson.D{{Key: "snapshot_id", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetName("snapshot_chunks"),
	}}
	if s.ttlDays > 0 {
		indexes = append(indexes, mongo.IndexModel{
			Keys: bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().
				SetName("ttl_index").
				SetExpireAfterSeconds(int32(s.ttlDays * 24 * 60 * 60)),
		})
	}
	if _, err := s.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) SnapshotID(ctx context.Context) (string, error) {
	header, err := s.loadHeader(ctx, options.FindOne().SetProjection(bson.D{{Key: "snapshot_id", Value: 1}}))
	if err != nil {
		return "", err
	}
	return header.SnapshotID, nil
}

func (s *MongoStore) loadHeader(ctx context.Context, opts ...*options.FindOneOptions) (*snapshotDoc, error) {
	var doc snapshotDoc
	err := s.collection.FindOne(ctx, bson.D{{Key: "_id", Value: snapshotDocID}}, opts...).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return &doc, nil
}

func (s *MongoStore) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	header, err := s.loadHeader(ctx)
	if err != nil {
		return nil, err
	}

	filter := bson.D{{Key: "kind", Value: chunkKind}, {Key: "snapshot_id", Value: header.SnapshotID}}
	cursor, err := s.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot chunks: %w", err)
	}
	defer cursor.Close(ctx)

	entries := make([]models.LogEntry, 0, header.Count)
	chunks := 0
	for cursor.Next(ctx) {
		var chunk chunkDoc
		if err := cursor.Decode(&chunk); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot chunk: %w", err)
		}
		part, err := ingest.ParseBytes([]byte(chunk.Entries))
		if err != nil {
			return nil, fmt.Errorf("failed to decode stored snapshot: %w", err)
		}
		entries = append(entries, part...)
		chunks++
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to load snapshot chunks: %w", err)
	}
	if chunks != header.Chunks || len(entries) != header.Count {
		return nil, fmt.Errorf("snapshot %s is incomplete: %d of %d chunks", header.SnapshotID, chunks, header.Chunks)
	}

	return &Snapshot{
		ID:        header.SnapshotID,
		Source:    header.Source,
		Entries:   entries,
		UpdatedAt: header.UpdatedAt,
	}, nil
}

func (s *MongoStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if err := s.writeSnapshot(ctx, snap); err != nil {
		return err
	}
	if _, err := s.collection.DeleteOne(ctx, bson.D{{Key: "_id", Value: selectionDocID}}); err != nil {
		return fmt.Errorf("failed to reset selection: %w", err)
	}
	return nil
}

func (s *MongoStore) UpdateSnapshot(ctx context.Context, snap *Snapshot) error {
	return s.writeSnapshot(ctx, snap)
}

// writeSnapshot inserts the new chunks, then switches the header to them
// and removes the chunks of earlier snapshots. Readers see either the old
// or the new snapshot.
func (s *MongoStore) writeSnapshot(ctx context.Context, snap *Snapshot) error {
	chunks, err := chunkEntries(snap.Entries, s.chunkBytes)
	if err != nil {
		return err
	}

	if len(chunks) > 0 {
		docs := make([]interface{}, len(chunks))
		for i, text := range chunks {
			docs[i] = chunkDoc{
				ID:         fmt.Sprintf("%s:%s:%06d", chunkKind, snap.ID, i),
				Kind:       chunkKind,
				SnapshotID: snap.ID,
				Seq:        i,
				Entries:    text,
				UpdatedAt:  snap.UpdatedAt,
			}
		}
		if _, err := s.collection.InsertMany(ctx, docs); err != nil {
			return fmt.Errorf("failed to save snapshot chunks: %w", err)
		}
	}

	header := snapshotDoc{
		ID:         snapshotDocID,
		SnapshotID: snap.ID,
		Source:     snap.Source,
		Count:      len(snap.Entries),
		Chunks:     len(chunks),
		UpdatedAt:  snap.UpdatedAt,
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.D{{Key: "_id", Value: snapshotDocID}}, header, opts); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	stale := bson.D{
		{Key: "kind", Value: chunkKind},
		{Key: "snapshot_id", Value: bson.D{{Key: "$ne", Value: snap.ID}}},
	}
	if _, err := s.collection.DeleteMany(ctx, stale); err != nil {
		s.logger.Warn("Failed to remove stale snapshot chunks", zap.Error(err))
	}

	s.logger.Info("Snapshot saved",
		zap.String("snapshot_id", snap.ID),
		zap.String("source", snap.Source),
		zap.Int("entries", len(snap.Entries)),
		zap.Int("chunks", len(chunks)))
	return nil
}

// chunkEntries renders entries as JSON arrays of at most limit bytes each
func chunkEntries(entries []models.LogEntry, limit int) ([]string, error) {
	chunks := make([]string, 0)
	var b strings.Builder
	n := 0
	for i, e := range entries {
		text := models.RenderJSON(e.Document)
		if len(text)+2 > limit {
			return nil, fmt.Errorf("%w: entry %d renders to %d bytes", ErrEntryTooLarge, i, len(text))
		}
		if n > 0 && b.Len()+len(text)+2 > limit {
			b.WriteByte(']')
			chunks = append(chunks, b.String())
			b.Reset()
			n = 0
		}
		if n == 0 {
			b.WriteByte('[')
		} else {
			b.WriteByte(',')
		}
		b.WriteString(text)
		n++
	}
	if n > 0 {
		b.WriteByte(']')
		chunks = append(chunks, b.String())
	}
	return chunks, nil
}

func (s *MongoStore) LoadSelection(ctx context.Context) (int, error) {
	var doc selectionDoc
	err := s.collection.FindOne(ctx, bson.D{{Key: "_id", Value: selectionDocID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load selection: %w", err)
	}
	return doc.Index, nil
}

func (s *MongoStore) SaveSelection(ctx context.Context, index int) error {
	doc := selectionDoc{ID: selectionDocID, Index: index, UpdatedAt: time.Now().UTC()}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.D{{Key: "_id", Value: selectionDocID}}, doc, opts); err != nil {
		return fmt.Errorf("failed to save selection: %w", err)
	}
	return nil
}

func (s *MongoStore) Clear(ctx context.Context) error {
	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: bson.A{snapshotDocID, selectionDocID}}}}},
		bson.D{{Key: "kind", Value: chunkKind}},
	}}}
	if _, err := s.collection.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
