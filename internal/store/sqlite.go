// Package store is the SQLite ledger of completed downloads and cached
// issue logs. The stacking engine never touches it; only the download
// workflow consults it to skip files already fetched.
package store

import (
	"database/sql"
	"time"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type Download struct {
	URL          string
	Name         string
	Path         string
	Size         int64
	Release      string
	DownloadedAt time.Time
}

func (s *Store) RecordDownload(d Download) error {
	_, err := s.db.Exec(`
		INSERT INTO downloads (url, name, path, size, release, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			name = excluded.name,
			path = excluded.path,
			size = excluded.size,
			release = excluded.release,
			downloaded_at = excluded.downloaded_at
	`, d.URL, d.Name, d.Path, d.Size, d.Release, d.DownloadedAt)
	return err
}

// HasDownload reports whether url was already fetched with the same
// byte size. A size mismatch means the portal republished the file, so
// it must be fetched again.
func (s *Store) HasDownload(url string, size int64) (bool, error) {
	var stored int64
	err := s.db.QueryRow(`SELECT size FROM downloads WHERE url = ?`, url).Scan(&stored)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored == size, nil
}

func (s *Store) GetDownloads() ([]Download, error) {
	rows, err := s.db.Query(`SELECT url, name, path, size, release, downloaded_at FROM downloads ORDER BY downloaded_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Download
	for rows.Next() {
		var d Download
		if err := rows.Scan(&d.URL, &d.Name, &d.Path, &d.Size, &d.Release, &d.DownloadedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
