// Package storage persists hub state that must survive restarts: the
// last-applied settings snapshot, tool embedding rows, tool-call activity
// and per-tool usage counters. Everything lives in a single bbolt file
// under the data directory.
package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
	"go.uber.org/zap"
)

// DBFileName is the bolt database file created inside the data directory.
const DBFileName = "hub.db"

// Store wraps bolt database operations.
type Store struct {
	db     *bbolt.DB
	logger *zap.SugaredLogger
}

// Open opens (or creates) the hub database inside dataDir. A database left
// locked by a crashed process is backed up and recreated so the hub can
// start.
func Open(dataDir string, logger *zap.SugaredLogger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := bbolt.Open(dbPath, 0o644, &bbolt.Options{
		Timeout: 10 * time.Second,
	})
	if err != nil {
		logger.Warnf("Failed to open database on first attempt: %v", err)

		if err == bolterrors.ErrTimeout {
			logger.Info("Database lock timeout, attempting recovery")

			if _, statErr := os.Stat(dbPath); statErr == nil {
				backupPath := dbPath + ".backup." + time.Now().Format("20060102-150405")
				logger.Infof("Creating backup at %s", backupPath)

				if cpErr := copyFile(dbPath, backupPath); cpErr != nil {
					logger.Warnf("Failed to create backup: %v", cpErr)
				}
				if rmErr := os.Remove(dbPath); rmErr != nil {
					logger.Warnf("Failed to remove locked database file: %v", rmErr)
				}
			}

			db, err = bbolt.Open(dbPath, 0o644, &bbolt.Options{
				Timeout: 5 * time.Second,
			})
		}

		if err != nil {
			return nil, fmt.Errorf("failed to open bolt database after recovery attempt: %w", err)
		}
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the location of the database file.
func (s *Store) Path() string {
	return s.db.Path()
}

// DB exposes the underlying bolt handle for health probes.
func (s *Store) DB() *bbolt.DB {
	return s.db
}

// initBuckets creates required buckets and stamps the schema version.
func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		buckets := []string{
			SettingsBucket,
			EmbeddingsBucket,
			ToolCallsBucket,
			ToolStatsBucket,
			MetaBucket,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		meta := tx.Bucket([]byte(MetaBucket))
		versionBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(versionBytes, CurrentSchemaVersion)
		return meta.Put([]byte(SchemaVersionKey), versionBytes)
	})
}

// SchemaVersion returns the stamped schema version.
func (s *Store) SchemaVersion() (uint64, error) {
	var version uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(MetaBucket))
		if bucket == nil {
			return fmt.Errorf("meta bucket not found")
		}
		versionBytes := bucket.Get([]byte(SchemaVersionKey))
		if versionBytes == nil {
			version = 0
			return nil
		}
		version = binary.LittleEndian.Uint64(versionBytes)
		return nil
	})
	return version, err
}

// Backup writes a consistent copy of the database to destPath.
func (s *Store) Backup(destPath string) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.CopyFile(destPath, 0o644)
	})
}

// Stats returns database statistics.
func (s *Store) Stats() bbolt.Stats {
	return s.db.Stats()
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}
