package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/kbimport/internal/core"
	"github.com/JonMunkholm/kbimport/internal/source"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
	maxRequestBody   = 64 << 10
)

// startImportRequest is the body of POST /api/imports. Omitted fields fall
// back to the configured defaults.
type startImportRequest struct {
	Source        string `json:"source"`
	TaxIDs        []int  `json:"taxids"`
	BatchSize     *int   `json:"batch_size"`
	SkipBudget    *int   `json:"skip_budget"`
	ForceDownload bool   `json:"force_download"`
}

// importResponse is the state of one import.
type importResponse struct {
	Progress core.ImportProgress `json:"progress"`
	Percent  int                 `json:"percent"`
	Result   *core.ImportResult  `json:"result,omitempty"`
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// handleHealth reports store reachability and import slots.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := map[string]any{
		"status":  "ok",
		"driver":  s.store.Driver(),
		"imports": s.service.LimiterStatus(),
	}

	if err := s.store.Ping(ctx); err != nil {
		resp["status"] = "unavailable"
		resp["error"] = core.MapError(err).Message
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	if n, err := s.store.CountEntries(ctx); err == nil {
		resp["entries"] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStartImport starts a background import.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	var body startImportRequest
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			respondBadRequest(w, "invalid request body: "+err.Error())
			return
		}
	}

	req, err := s.buildRequest(body)
	if err != nil {
		respondBadRequest(w, err.Error())
		return
	}

	if _, err := source.Parse(req.Source); err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	id, err := s.service.StartImport(r.Context(), req)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"import_id":  id,
		"status_url": "/api/imports/" + id,
		"events_url": "/api/imports/" + id + "/events",
	})
}

func (s *Server) buildRequest(body startImportRequest) (core.ImportRequest, error) {
	defaults := s.cfg.Import

	req := core.ImportRequest{
		Source:     body.Source,
		BatchSize:  defaults.BatchSize,
		SkipBudget: defaults.SkipBudget,
		QueueDepth: defaults.QueueDepth,
		Filter:     core.NewFilterSet(defaults.TaxIDs...),
	}
	if req.Source == "" {
		req.Source = s.cfg.Source.URL
	}

	if body.BatchSize != nil {
		if *body.BatchSize <= 0 {
			return req, fmt.Errorf("batch_size must be positive, got %d", *body.BatchSize)
		}
		req.BatchSize = *body.BatchSize
	}
	if body.SkipBudget != nil {
		if *body.SkipBudget < 0 {
			return req, fmt.Errorf("skip_budget must not be negative, got %d", *body.SkipBudget)
		}
		req.SkipBudget = *body.SkipBudget
	}
	if body.TaxIDs != nil {
		for _, id := range body.TaxIDs {
			if id <= 0 {
				return req, fmt.Errorf("taxids must be positive, got %d", id)
			}
		}
		req.Filter = core.NewFilterSet(body.TaxIDs...)
	}

	req.Open = s.opener(req.Source, body.ForceDownload || s.cfg.Source.ForceDownload)
	return req, nil
}

// handleListImports lists imports the service still remembers.
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	imports := s.service.ListImports()
	sort.Slice(imports, func(i, j int) bool { return imports[i].ImportID < imports[j].ImportID })
	writeJSON(w, http.StatusOK, map[string]any{"imports": imports})
}

// handleGetImport returns progress, and the result once finished.
func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "importID")

	progress, err := s.service.GetImportProgress(id)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	result, err := s.service.FinishedResult(id)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusOK, importResponse{
		Progress: progress,
		Percent:  progress.Percent(),
		Result:   result,
	})
}

// handleCancelImport cancels a running import.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "importID")
	if err := s.service.CancelImport(id); err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling", "import_id": id})
}

// handleListRuns returns recorded import runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", defaultRunsLimit)
	if limit > maxRunsLimit {
		limit = maxRunsLimit
	}

	runs, err := s.store.RecentRuns(r.Context(), limit)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	if runs == nil {
		runs = []core.RunSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleImportEvents streams import progress via Server-Sent Events.
// Supports resumption via the Last-Event-ID header or the lastEventId query
// parameter; the event id is the progress percentage.
func (s *Server) handleImportEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "importID")

	lastEventIDStr := r.Header.Get("Last-Event-ID")
	if q := r.URL.Query().Get("lastEventId"); q != "" {
		lastEventIDStr = q
	}
	var lastEventID int
	if lastEventIDStr != "" {
		lastEventID, _ = strconv.Atoi(lastEventIDStr)
	}

	progressCh, err := s.service.SubscribeProgress(id)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, fmt.Errorf("streaming not supported"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}

			pct := progress.Percent()
			terminal := progress.Phase == core.PhaseComplete ||
				progress.Phase == core.PhaseFailed ||
				progress.Phase == core.PhaseCancelled
			if lastEventIDStr != "" && pct <= lastEventID && !terminal {
				continue
			}

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", pct, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
