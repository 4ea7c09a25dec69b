package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/wolfeidau/package-cache/journal"
	"github.com/wolfeidau/package-cache/retention"
	"github.com/wolfeidau/package-cache/sweep"
	"github.com/wolfeidau/package-cache/telemetry"
)

// journalResponse is the body of GET /journal.
type journalResponse struct {
	CacheAge   journal.CacheAge `json:"cache_age"`
	TotalBytes uint64           `json:"total_bytes"`
	Entries    []journal.Entry  `json:"entries"`
}

// makeSpaceConflict is the body of a 409 from POST /make-space.
type makeSpaceConflict struct {
	Error         string        `json:"error"`
	SpaceFound    uint64        `json:"space_found"`
	SpaceRequired uint64        `json:"space_required"`
	Result        *sweep.Result `json:"result,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	telemetry.SetRoute(r, "health")
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleStatus returns the result of the last sweep.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	telemetry.SetRoute(r, "status")
	result := s.sweeper.Status()
	if result == nil {
		writeError(w, http.StatusNotFound, "no sweep has completed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSweep runs a retention pass and returns its result.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	telemetry.SetRoute(r, "sweep")
	ctx := telemetry.WithTrigger(r.Context(), telemetry.TriggerManual)

	result, err := s.sweeper.RunNow(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleMakeSpace evicts packages until ?bytes=N have been reclaimed.
func (s *Server) handleMakeSpace(w http.ResponseWriter, r *http.Request) {
	telemetry.SetRoute(r, "make_space")

	raw := r.URL.Query().Get("bytes")
	required, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bytes must be a non-negative integer")
		return
	}

	result, err := s.sweeper.MakeSpace(r.Context(), required)

	var space *retention.InsufficientCacheSpaceError
	switch {
	case errors.As(err, &space):
		writeJSON(w, http.StatusConflict, makeSpaceConflict{
			Error:         space.Error(),
			SpaceFound:    space.SpaceFound,
			SpaceRequired: space.SpaceRequired,
			Result:        result,
		})
	case err != nil:
		s.logger.ErrorContext(r.Context(), "make space failed", "bytes_required", required, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

// handleJournal lists journal entries, optionally filtered by ?package=<id>.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	telemetry.SetRoute(r, "journal")

	entries, err := s.journal.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	age, err := s.journal.CacheAge(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if id := r.URL.Query().Get("package"); id != "" {
		telemetry.SetPackage(r, id)
		filtered := entries[:0]
		for _, e := range entries {
			if strings.EqualFold(e.Package.PackageID, id) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if entries == nil {
		entries = []journal.Entry{}
	}

	writeJSON(w, http.StatusOK, journalResponse{
		CacheAge:   age,
		TotalBytes: journal.TotalSize(entries),
		Entries:    entries,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
