package snapshot

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"go-callgraph-refine/callgraph"
)

const (
	keyPrefixSnap = "cg:snap:"
	keySuffixData = ":data"
	keySuffixMeta = ":meta"
)

// ErrNotFound is returned for unknown snapshot IDs.
var ErrNotFound = errors.New("snapshot: not found")

// Metadata describes a stored snapshot.
type Metadata struct {
	ID             string `json:"id"`
	Label          string `json:"label,omitempty"`
	ProjectRoot    string `json:"project_root"`
	CreatedAtMilli int64  `json:"created_at_milli"`
	NodeCount      int    `json:"node_count"`
	EdgeCount      int    `json:"edge_count"`
	SchemaVersion  string `json:"schema_version"`
	CompressedSize int64  `json:"compressed_size"`
	// ContentHash is the SHA256 of the compressed document.
	ContentHash string `json:"content_hash"`
}

// Manager stores snapshots in a badger database.
type Manager struct {
	db     *badger.DB
	logger *slog.Logger
}

func NewManager(db *badger.DB, logger *slog.Logger) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("db must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Manager{db: db, logger: logger}, nil
}

func dataKey(id string) []byte { return []byte(keyPrefixSnap + id + keySuffixData) }
func metaKey(id string) []byte { return []byte(keyPrefixSnap + id + keySuffixMeta) }

// Save stores the graph visible through g and returns its metadata.
func (m *Manager) Save(ctx context.Context, g callgraph.Graph, projectRoot, label string) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc := Encode(g)

	jsonData, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling graph: %w", err)
	}

	var compressed bytes.Buffer
	gw, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("compressing graph: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	data := compressed.Bytes()

	meta := &Metadata{
		ID:             uuid.NewString(),
		Label:          label,
		ProjectRoot:    projectRoot,
		CreatedAtMilli: time.Now().UnixMilli(),
		NodeCount:      len(doc.Nodes),
		EdgeCount:      len(doc.Edges),
		SchemaVersion:  SchemaVersion,
		CompressedSize: int64(len(data)),
		ContentHash:    hashBytes(data),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(dataKey(meta.ID), data); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set(metaKey(meta.ID), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("writing snapshot to badger: %w", err)
	}

	m.logger.Info("snapshot saved",
		slog.String("snapshot_id", meta.ID),
		slog.Int("node_count", meta.NodeCount),
		slog.Int("edge_count", meta.EdgeCount),
		slog.Int64("compressed_size", meta.CompressedSize),
	)
	return meta, nil
}

// Load restores the snapshot with the given ID.
func (m *Manager) Load(ctx context.Context, id string) (*callgraph.Explicit, *Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	var data, metaJSON []byte
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dataKey(id))
		if err != nil {
			return err
		}
		if data, err = item.ValueCopy(nil); err != nil {
			return err
		}
		item, err = txn.Get(metaKey(id))
		if err != nil {
			return err
		}
		metaJSON, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading snapshot %s: %w", id, err)
	}

	var meta Metadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling metadata for %s: %w", id, err)
	}
	if actual := hashBytes(data); meta.ContentHash != "" && meta.ContentHash != actual {
		return nil, nil, fmt.Errorf("integrity check failed for %s: expected hash %s, got %s", id, meta.ContentHash, actual)
	}

	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing snapshot %s: %w", id, err)
	}
	defer gr.Close()
	jsonData, err := io.ReadAll(gr)
	if err != nil {
		return nil, nil, fmt.Errorf("reading decompressed data for %s: %w", id, err)
	}

	var doc Document
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling graph for %s: %w", id, err)
	}
	g, err := Decode(&doc)
	if err != nil {
		return nil, nil, fmt.Errorf("reconstructing graph for %s: %w", id, err)
	}
	return g, &meta, nil
}

// List returns the metadata of every snapshot, newest first.
func (m *Manager) List(ctx context.Context) ([]*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var results []*Metadata
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixSnap)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !bytes.HasSuffix(item.Key(), []byte(keySuffixMeta)) {
				continue
			}
			var meta Metadata
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				m.logger.Warn("skipping corrupt metadata", slog.String("key", key), slog.Any("error", err))
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAtMilli > results[j].CreatedAtMilli
	})
	return results, nil
}

// Delete removes the snapshot with the given ID.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := m.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(dataKey(id)); err != nil {
			return fmt.Errorf("deleting data: %w", err)
		}
		if err := txn.Delete(metaKey(id)); err != nil {
			return fmt.Errorf("deleting metadata: %w", err)
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", id, err)
	}
	m.logger.Info("snapshot deleted", slog.String("snapshot_id", id))
	return nil
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
