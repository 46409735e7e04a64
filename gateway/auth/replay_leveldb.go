// Package auth persists single-use token identifiers so a captured bearer
// token cannot replay a marketplace write.
package auth

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	tokenKeyPrefix  = "jti:"
	expiryKeyPrefix = "expiry:"
)

// LevelDBReplayStore records token identifiers until they expire.
type LevelDBReplayStore struct {
	db *leveldb.DB
}

// NewLevelDBReplayStore opens (or creates) a LevelDB database at the provided path.
func NewLevelDBReplayStore(path string) (*LevelDBReplayStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("replay store path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve replay store path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open replay store: %w", err)
	}
	return &LevelDBReplayStore{db: db}, nil
}

// Close releases the underlying LevelDB resources.
func (s *LevelDBReplayStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// MarkUsed records tokenID and reports whether it had already been recorded.
// A replayed identifier keeps the later of the two expiries.
func (s *LevelDBReplayStore) MarkUsed(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("replay store not configured")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	id := strings.TrimSpace(tokenID)
	if id == "" {
		return false, fmt.Errorf("token id required")
	}
	expiry := expiresAt.UTC().UnixNano()
	tokenKey := []byte(tokenKeyPrefix + id)

	existingVal, err := s.db.Get(tokenKey, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("load token id: %w", err)
	default:
		existing := int64(binary.BigEndian.Uint64(existingVal))
		if expiry > existing {
			batch := new(leveldb.Batch)
			batch.Put(tokenKey, encodeUnixNano(expiry))
			batch.Delete([]byte(expiryKey(existing, id)))
			batch.Put([]byte(expiryKey(expiry, id)), nil)
			if err := s.db.Write(batch, nil); err != nil {
				return true, fmt.Errorf("extend token id: %w", err)
			}
		}
		return true, nil
	}

	batch := new(leveldb.Batch)
	batch.Put(tokenKey, encodeUnixNano(expiry))
	batch.Put([]byte(expiryKey(expiry, id)), nil)
	if err := s.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("record token id: %w", err)
	}
	return false, nil
}

// Prune deletes identifiers that expired before cutoff and returns how many
// were removed.
func (s *LevelDBReplayStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("replay store not configured")
	}
	cutoffKey := []byte(expiryKey(cutoff.UTC().UnixNano(), ""))
	iter := s.db.NewIterator(util.BytesPrefix([]byte(expiryKeyPrefix)), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	removed := 0
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if string(iter.Key()) >= string(cutoffKey) {
			break
		}
		id, _, ok := parseExpiryKey(iter.Key())
		if !ok {
			continue
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
		batch.Delete([]byte(tokenKeyPrefix + id))
		removed++
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("iterate token expiries: %w", err)
	}
	if batch.Len() > 0 {
		if err := s.db.Write(batch, nil); err != nil {
			return 0, fmt.Errorf("prune token ids: %w", err)
		}
	}
	return removed, nil
}

// Run prunes expired identifiers every interval until ctx is cancelled.
func (s *LevelDBReplayStore) Run(ctx context.Context, interval time.Duration, onError func(error)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := s.Prune(ctx, now); err != nil && onError != nil && ctx.Err() == nil {
				onError(err)
			}
		}
	}
}

func expiryKey(nanos int64, id string) string {
	return fmt.Sprintf("%s%020d:%s", expiryKeyPrefix, nanos, id)
}

func parseExpiryKey(key []byte) (string, int64, bool) {
	parts := strings.SplitN(string(key), ":", 3)
	if len(parts) != 3 {
		return "", 0, false
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return parts[2], nanos, true
}

func encodeUnixNano(nanos int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(nanos))
	return buf
}
