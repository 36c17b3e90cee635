package storage

import (
	"bytes"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// PutEmbedding writes one embedding row, keyed by (upstream, tool).
func (s *Store) PutEmbedding(record *EmbeddingRecord) error {
	if record == nil {
		return fmt.Errorf("embedding record cannot be nil")
	}
	if record.UpstreamName == "" || record.ToolName == "" {
		return fmt.Errorf("embedding record needs upstream and tool names")
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(EmbeddingsBucket))
		data, err := record.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal embedding record: %w", err)
		}
		return bucket.Put(compositeKey(record.UpstreamName, record.ToolName), data)
	})
}

// GetEmbedding returns the row for (upstream, tool), or nil when absent.
func (s *Store) GetEmbedding(upstream, tool string) (*EmbeddingRecord, error) {
	var record *EmbeddingRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(EmbeddingsBucket)).Get(compositeKey(upstream, tool))
		if data == nil {
			return nil
		}
		record = &EmbeddingRecord{}
		return record.UnmarshalBinary(data)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListEmbeddings returns every stored embedding row in key order.
func (s *Store) ListEmbeddings() ([]*EmbeddingRecord, error) {
	var records []*EmbeddingRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(EmbeddingsBucket)).ForEach(func(k, v []byte) error {
			rec := &EmbeddingRecord{}
			if err := rec.UnmarshalBinary(v); err != nil {
				s.logger.Warnw("Dropping unreadable embedding row",
					"key", string(k),
					"error", err)
				return nil
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteEmbedding removes the row for (upstream, tool). Missing rows are not
// an error.
func (s *Store) DeleteEmbedding(upstream, tool string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(EmbeddingsBucket)).Delete(compositeKey(upstream, tool))
	})
}

// DeleteEmbeddingsByUpstream removes every row belonging to one upstream.
// Returns the number of rows deleted.
func (s *Store) DeleteEmbeddingsByUpstream(upstream string) (int, error) {
	prefix := compositeKey(upstream, "")

	var deleted int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(EmbeddingsBucket))

		var keys [][]byte
		cursor := bucket.Cursor()
		for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
			keys = append(keys, append([]byte{}, k...))
		}
		for _, key := range keys {
			if err := bucket.Delete(key); err != nil {
				return fmt.Errorf("failed to delete embedding row: %w", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// ClearEmbeddings drops every embedding row. Used when the index must be
// rebuilt after a model or dimension change.
func (s *Store) ClearEmbeddings() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(EmbeddingsBucket)); err != nil {
			return fmt.Errorf("failed to drop embeddings bucket: %w", err)
		}
		_, err := tx.CreateBucket([]byte(EmbeddingsBucket))
		return err
	})
}

// CountEmbeddings returns the number of stored embedding rows.
func (s *Store) CountEmbeddings() (int, error) {
	var count int
	err := s.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket([]byte(EmbeddingsBucket)).Stats().KeyN
		return nil
	})
	return count, err
}
