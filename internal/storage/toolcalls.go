package storage

import (
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"
)

// SaveToolCall stores a tool-call record and bumps the per-tool usage
// counter. The record ID doubles as the bucket key; ULIDs sort by time, so
// the bucket stays in chronological order. When the log grows past
// DefaultMaxToolCallRecords the oldest tenth is pruned in the same
// transaction.
func (s *Store) SaveToolCall(record *ToolCallRecord) error {
	if record == nil {
		return fmt.Errorf("tool call record cannot be nil")
	}
	if record.ID == "" {
		record.ID = ulid.Make().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ToolCallsBucket))
		data, err := record.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal tool call record: %w", err)
		}
		if err := bucket.Put([]byte(record.ID), data); err != nil {
			return fmt.Errorf("failed to store tool call record: %w", err)
		}

		if err := s.bumpToolStat(tx, record); err != nil {
			return err
		}

		return pruneOldest(bucket, DefaultMaxToolCallRecords)
	})
}

// SaveToolCallAsync saves a record without blocking the caller.
func (s *Store) SaveToolCallAsync(record *ToolCallRecord) {
	go func() {
		if err := s.SaveToolCall(record); err != nil {
			s.logger.Errorw("Failed to save tool call record",
				"id", record.ID,
				"tool", record.ToolName,
				"error", err)
		}
	}()
}

// GetToolCall retrieves a record by ID. Returns nil when not found.
func (s *Store) GetToolCall(id string) (*ToolCallRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("tool call ID cannot be empty")
	}

	var record *ToolCallRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ToolCallsBucket))
		data := bucket.Get([]byte(id))
		if data == nil {
			return nil
		}
		record = &ToolCallRecord{}
		return record.UnmarshalBinary(data)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListToolCalls returns paginated records matching the filter, newest first,
// plus the total number of matches.
func (s *Store) ListToolCalls(filter ToolCallFilter) ([]*ToolCallRecord, int, error) {
	filter.Validate()

	var records []*ToolCallRecord
	var total int

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ToolCallsBucket))
		cursor := bucket.Cursor()
		skipped := 0

		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			var record ToolCallRecord
			if err := record.UnmarshalBinary(v); err != nil {
				s.logger.Warnw("Failed to unmarshal tool call record",
					"key", string(k),
					"error", err)
				continue
			}
			if !filter.Matches(&record) {
				continue
			}
			total++
			if skipped < filter.Offset {
				skipped++
				continue
			}
			if len(records) < filter.Limit {
				rec := record
				records = append(records, &rec)
			}
		}
		return nil
	})

	return records, total, err
}

// CountToolCalls returns the total number of stored records.
func (s *Store) CountToolCalls() (int, error) {
	var count int
	err := s.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket([]byte(ToolCallsBucket)).Stats().KeyN
		return nil
	})
	return count, err
}

// DeleteToolCall removes a record by ID. Missing records are not an error.
func (s *Store) DeleteToolCall(id string) error {
	if id == "" {
		return fmt.Errorf("tool call ID cannot be empty")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(ToolCallsBucket)).Delete([]byte(id))
	})
}

// PruneToolCalls deletes the oldest records until at most maxRecords remain.
// Returns the number deleted.
func (s *Store) PruneToolCalls(maxRecords int) (int, error) {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxToolCallRecords
	}

	var deleted int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ToolCallsBucket))
		count := bucket.Stats().KeyN
		if count <= maxRecords {
			return nil
		}

		toDelete := count - maxRecords
		var keys [][]byte
		cursor := bucket.Cursor()
		for k, _ := cursor.First(); k != nil && len(keys) < toDelete; k, _ = cursor.Next() {
			keys = append(keys, append([]byte{}, k...))
		}
		for _, key := range keys {
			if err := bucket.Delete(key); err != nil {
				return fmt.Errorf("failed to prune tool call record: %w", err)
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, err
	}

	if deleted > 0 {
		s.logger.Infow("Pruned tool call records",
			"deleted", deleted,
			"max_records", maxRecords)
	}
	return deleted, nil
}

// ToolStats returns usage counters for every tool that has been called,
// sorted by count descending then (upstream, tool) ascending.
func (s *Store) ToolStats() ([]*ToolStatRecord, error) {
	var stats []*ToolStatRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(ToolStatsBucket)).ForEach(func(_, v []byte) error {
			rec := &ToolStatRecord{}
			if err := rec.UnmarshalBinary(v); err != nil {
				return err
			}
			stats = append(stats, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		if stats[i].UpstreamName != stats[j].UpstreamName {
			return stats[i].UpstreamName < stats[j].UpstreamName
		}
		return stats[i].ToolName < stats[j].ToolName
	})
	return stats, nil
}

// ToolStat returns the usage counter for one tool. Returns nil when the tool
// has never been called.
func (s *Store) ToolStat(upstream, tool string) (*ToolStatRecord, error) {
	var record *ToolStatRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(ToolStatsBucket)).Get(compositeKey(upstream, tool))
		if data == nil {
			return nil
		}
		record = &ToolStatRecord{}
		return record.UnmarshalBinary(data)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Store) bumpToolStat(tx *bbolt.Tx, call *ToolCallRecord) error {
	bucket := tx.Bucket([]byte(ToolStatsBucket))
	key := compositeKey(call.UpstreamName, call.ToolName)

	var stat ToolStatRecord
	if data := bucket.Get(key); data != nil {
		if err := stat.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("failed to unmarshal tool stat: %w", err)
		}
	} else {
		stat.UpstreamName = call.UpstreamName
		stat.ToolName = call.ToolName
	}

	stat.Count++
	stat.LastUsed = call.Timestamp

	data, err := stat.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal tool stat: %w", err)
	}
	return bucket.Put(key, data)
}

// pruneOldest trims the bucket down to 90% of maxRecords once the cap is
// exceeded, so steady-state writes do not prune on every save.
func pruneOldest(bucket *bbolt.Bucket, maxRecords int) error {
	count := bucket.Stats().KeyN
	if count <= maxRecords {
		return nil
	}

	target := maxRecords * 9 / 10
	toDelete := count - target

	var keys [][]byte
	cursor := bucket.Cursor()
	for k, _ := cursor.First(); k != nil && len(keys) < toDelete; k, _ = cursor.Next() {
		keys = append(keys, append([]byte{}, k...))
	}
	for _, key := range keys {
		if err := bucket.Delete(key); err != nil {
			return fmt.Errorf("failed to prune tool call record: %w", err)
		}
	}
	return nil
}

// compositeKey joins two name components with a NUL byte, which cannot
// appear in upstream or tool names.
func compositeKey(a, b string) []byte {
	key := make([]byte, 0, len(a)+len(b)+1)
	key = append(key, a...)
	key = append(key, 0)
	key = append(key, b...)
	return key
}
