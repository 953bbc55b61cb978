// Package directory reads the external persistent store (PostgreSQL). The
// signaling core consumes it as a black box: profile lookup for authenticated
// joins, the admin-managed restricted-word list, and the admin ban flag
// checked at connect time. All methods are read-only.
package directory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Shubhamkumarpatel70/videovhat/internal/moderation"
)

// Profile is the persistent record behind an authenticated identity.
type Profile struct {
	UserID     string
	Name       string
	Country    string
	Gender     string
	IsBanned   bool // admin-applied persistent ban, distinct from moderation cooldowns
	BanExpires sql.NullTime
}

// AdminBanned reports whether the profile carries an active admin ban at the
// given instant. An expired admin ban counts as lifted even if the row's flag
// has not been cleared yet.
func (p *Profile) AdminBanned(now time.Time) bool {
	if !p.IsBanned {
		return false
	}
	if p.BanExpires.Valid && now.After(p.BanExpires.Time) {
		return false
	}
	return true
}

// Directory wraps the database handle.
type Directory struct {
	db *sql.DB
}

// New creates a Directory over the given database handle.
func New(db *sql.DB) *Directory {
	return &Directory{db: db}
}

// GetProfile looks up the profile for userID. Returns (nil, nil) when the
// user does not exist; a stale token for a deleted account is not an error
// worth failing a connection over.
func (d *Directory) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	const query = `
		SELECT id, name, country, gender, is_banned, ban_expires
		FROM users
		WHERE id = $1`

	p := &Profile{}
	err := d.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID, &p.Name, &p.Country, &p.Gender, &p.IsBanned, &p.BanExpires,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory: profile %s: %w", userID, err)
	}
	return p, nil
}

// RestrictedWords returns the current moderation word list. It implements
// moderation.WordSource; the filter caches the result and calls this at most
// once per snapshot interval.
func (d *Directory) RestrictedWords(ctx context.Context) ([]moderation.Word, error) {
	const query = `SELECT word, severity FROM restricted_words ORDER BY word`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("directory: restricted words: %w", err)
	}
	defer rows.Close()

	var words []moderation.Word
	for rows.Next() {
		var w moderation.Word
		var severity string
		if err := rows.Scan(&w.Term, &severity); err != nil {
			return nil, fmt.Errorf("directory: scan word: %w", err)
		}
		w.Severity = moderation.Severity(severity)
		words = append(words, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: iterate words: %w", err)
	}
	return words, nil
}
