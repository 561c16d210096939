package store

import (
	"database/sql"
	"time"
)

// CacheIssueLog stores the raw issue log payload for a product so
// repeated runs within the cache window need no portal round trip.
func (s *Store) CacheIssueLog(dpid, payload string, fetchedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO issue_log_cache (dpid, fetched_at, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(dpid) DO UPDATE SET
			fetched_at = excluded.fetched_at,
			payload = excluded.payload
	`, dpid, fetchedAt, payload)
	return err
}

// GetCachedIssueLog returns the cached payload for a product, if one
// exists that was fetched after cutoff.
func (s *Store) GetCachedIssueLog(dpid string, cutoff time.Time) (string, bool, error) {
	var payload string
	var fetchedAt time.Time
	err := s.db.QueryRow(`SELECT payload, fetched_at FROM issue_log_cache WHERE dpid = ?`, dpid).
		Scan(&payload, &fetchedAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if fetchedAt.Before(cutoff) {
		return "", false, nil
	}
	return payload, true, nil
}
