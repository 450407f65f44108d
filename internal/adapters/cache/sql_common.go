package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Threadigit/BillDrop/internal/core"
)

// fixed-width UTC text compares correctly as a string in both databases
const timeLayout = "2006-01-02 15:04:05.000000"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// encodeResult stores a negative outcome as NULL
func encodeResult(p *core.ParsedSubscription) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode cached result: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeEntry(messageID string, result sql.NullString, cachedAt, expiresAt string) (*core.CacheEntry, error) {
	entry := &core.CacheEntry{MessageID: messageID}
	if result.Valid && result.String != "" {
		entry.Result = &core.ParsedSubscription{}
		if err := json.Unmarshal([]byte(result.String), entry.Result); err != nil {
			return nil, fmt.Errorf("failed to decode cached result: %w", err)
		}
	}

	var err error
	if entry.CachedAt, err = parseTime(cachedAt); err != nil {
		return nil, err
	}
	if entry.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	return entry, nil
}
