// Package moderation screens chat messages for restricted content before they
// are relayed. The word list is owned by external admin tooling; the filter
// treats it as a point-in-time snapshot refreshed on a short interval.
package moderation

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
)

// Severity tags a restricted word. Admins assign it; the filter reports it
// back for audit display but applies the same ban policy regardless.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Word is a single restricted term from the moderation configuration store.
type Word struct {
	Term     string
	Severity Severity
}

// WordSource fetches the current restricted-word list. Implemented by the
// Postgres directory; tests supply an in-memory source.
type WordSource interface {
	RestrictedWords(ctx context.Context) ([]Word, error)
}

// DefaultSnapshotMaxAge bounds word-list staleness. Admin edits to the list
// must take effect within a couple of seconds.
const DefaultSnapshotMaxAge = 2 * time.Second

// Filter scans message text against the restricted-word snapshot. Matching is
// case-insensitive substring containment, not token-aware, so it flags more
// than it misses.
type Filter struct {
	source WordSource
	maxAge time.Duration

	mu        sync.RWMutex
	words     []Word
	fetchedAt time.Time
}

// NewFilter creates a Filter over the given source. A maxAge of zero uses
// DefaultSnapshotMaxAge.
func NewFilter(source WordSource, maxAge time.Duration) *Filter {
	if maxAge <= 0 {
		maxAge = DefaultSnapshotMaxAge
	}
	return &Filter{source: source, maxAge: maxAge}
}

// NewFilterWithWords creates a Filter with a fixed word list and no backing
// source. Used by tests and by deployments without a configuration store.
func NewFilterWithWords(words []Word) *Filter {
	f := &Filter{maxAge: time.Duration(1<<62 - 1)}
	f.words = normalize(words)
	f.fetchedAt = time.Now()
	return f
}

// Scan checks text against the current word snapshot and returns every
// configured word whose term appears anywhere in the message, case
// insensitively. The returned words carry the exact configured spelling for
// audit display. An empty result means the message is clean.
func (f *Filter) Scan(ctx context.Context, text string) []Word {
	lowered := strings.ToLower(text)

	var matched []Word
	for _, w := range f.snapshot(ctx) {
		if strings.Contains(lowered, strings.ToLower(w.Term)) {
			matched = append(matched, w)
		}
	}
	return matched
}

// Invalidate drops the cached snapshot so the next Scan refetches. Hook for
// admin tooling that wants word changes visible immediately.
func (f *Filter) Invalidate() {
	f.mu.Lock()
	f.fetchedAt = time.Time{}
	f.mu.Unlock()
}

// snapshot returns the cached word list, refreshing it from the source when
// older than maxAge. On fetch errors the previous snapshot is kept; a stale
// list beats an empty one.
func (f *Filter) snapshot(ctx context.Context) []Word {
	f.mu.RLock()
	fresh := time.Since(f.fetchedAt) < f.maxAge
	words := f.words
	f.mu.RUnlock()

	if fresh || f.source == nil {
		return words
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	// Another goroutine may have refreshed while we waited for the lock.
	if time.Since(f.fetchedAt) < f.maxAge {
		return f.words
	}

	fetched, err := f.source.RestrictedWords(ctx)
	if err != nil {
		log.Printf("[moderation] word list fetch failed, keeping snapshot of %d words: %v", len(f.words), err)
		f.fetchedAt = time.Now() // back off; don't hammer a down store
		return f.words
	}

	f.words = normalize(fetched)
	f.fetchedAt = time.Now()
	return f.words
}

// normalize drops empty terms and defaults missing severities to medium,
// matching what the admin tooling writes.
func normalize(words []Word) []Word {
	out := make([]Word, 0, len(words))
	for _, w := range words {
		if strings.TrimSpace(w.Term) == "" {
			continue
		}
		if w.Severity == "" {
			w.Severity = SeverityMedium
		}
		out = append(out, w)
	}
	return out
}

// Terms extracts just the word strings from a match set, for log rows and
// client notices.
func Terms(words []Word) []string {
	if len(words) == 0 {
		return nil
	}
	terms := make([]string, len(words))
	for i, w := range words {
		terms[i] = w.Term
	}
	return terms
}
