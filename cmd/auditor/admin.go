package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/Shubhamkumarpatel70/videovhat/internal/chatlog"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// recentLiner is the slice of the chatlog store the admin endpoint needs.
type recentLiner interface {
	RecentLines(ctx context.Context, limit int) ([]chatlog.Line, error)
}

// newAdminMux serves the moderation read API. GET /logs/recent returns the
// newest chat lines as JSON; ?limit= adjusts the page size up to
// maxRecentLimit.
func newAdminMux(store recentLiner) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/logs/recent", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		limit := defaultRecentLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			if n > maxRecentLimit {
				n = maxRecentLimit
			}
			limit = n
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		lines, err := store.RecentLines(ctx, limit)
		if err != nil {
			log.Printf("[auditor] recent lines query failed: %v", err)
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		if lines == nil {
			lines = []chatlog.Line{}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(lines); err != nil {
			log.Printf("[auditor] encode recent lines failed: %v", err)
		}
	})

	return mux
}
