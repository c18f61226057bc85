// Package api provides the HTTP ops surface for the scan engine.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/poppopjmp/spiderfoot-sub002/internal/export"
	"github.com/poppopjmp/spiderfoot-sub002/internal/store"
)

type (
	// Version represents the API version response structure.
	Version struct {
		Version     string `json:"version"`
		ServiceName string `json:"serviceName"`
	}

	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// ScanStatusResponse reports one scan's persisted status (§6 Exit
	// conditions).
	ScanStatusResponse struct {
		ScanID string `json:"scan_id"` //nolint: tagliatelle
		Status string `json:"status"`
	}

	// FalsePositiveRequest flags a batch of event hashes as false positive
	// (or clears the flag) for one scan.
	FalsePositiveRequest struct {
		Hashes []string `json:"hashes"`
		Flag   bool     `json:"flag"`
	}
)

const apiVersion = "v1.0.0"

// setupRoutes sets up all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/v1/scans/{scanID}/status", s.handleScanStatus)
	mux.HandleFunc("GET /api/v1/scans/{scanID}/events", s.handleScanEvents)
	mux.HandleFunc("GET /api/v1/scans/{scanID}/export/{format}", s.handleScanExport)
	mux.HandleFunc("GET /api/v1/scans/{scanID}/correlations", s.handleScanCorrelations)
	mux.HandleFunc("POST /api/v1/scans/{scanID}/false-positive", s.handleFalsePositive)

	mux.HandleFunc("/", s.handleNotFound)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("X-Engine-Version", apiVersion)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var uptime string
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	s.writeJSON(w, r, http.StatusOK, HealthStatus{
		Status:      "healthy",
		ServiceName: "osint-scan-engine",
		Version:     apiVersion,
		Uptime:      uptime,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("the requested resource was not found"))
}

// handleScanStatus returns the persisted scan status (§6).
func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	scanID := r.PathValue("scanID")

	status, err := s.eventStore.GetScanStatus(r.Context(), scanID)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, NotFound("scan not found: "+err.Error()))

		return
	}

	s.writeJSON(w, r, http.StatusOK, ScanStatusResponse{ScanID: scanID, Status: status})
}

// handleScanEvents returns stored events for a scan, filtered by the
// query parameters type/module/data/fp (§4.9 result_event).
func (s *Server) handleScanEvents(w http.ResponseWriter, r *http.Request) {
	scanID := r.PathValue("scanID")
	filter := store.ResultFilter{
		Data:                r.URL.Query().Get("data"),
		FilterFalsePositive: r.URL.Query().Get("fp") == "true",
	}

	if types := r.URL.Query().Get("type"); types != "" {
		filter.EventTypes = strings.Split(types, ",")
	}

	if modules := r.URL.Query().Get("module"); modules != "" {
		filter.Modules = strings.Split(modules, ",")
	}

	rows, err := s.eventStore.ResultEvent(r.Context(), scanID, filter)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to query events: "+err.Error()))

		return
	}

	s.writeJSON(w, r, http.StatusOK, rows)
}

// handleScanExport renders a scan's events through the named export format
// (§4.8). Query parameters mirror export.Options: min_risk, max_results,
// types, modules, include_raw.
func (s *Server) handleScanExport(w http.ResponseWriter, r *http.Request) {
	scanID := r.PathValue("scanID")
	format := r.PathValue("format")

	rows, err := s.eventStore.ResultEvent(r.Context(), scanID, store.ResultFilter{})
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to query events: "+err.Error()))

		return
	}

	exporter, ok := s.exporters.Get(format)
	if !ok {
		WriteErrorResponse(w, r, s.logger, NotFound("unknown export format: "+format))

		return
	}

	opts := parseExportOptions(r)

	body, err := exporter.Export(rowsToExportEvents(rows), opts)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("export failed: "+err.Error()))

		return
	}

	w.Header().Set("Content-Type", exporter.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// handleScanCorrelations returns the stored correlation results for a scan
// (§6 correlation_results), available only once the scan has left the
// running state.
func (s *Server) handleScanCorrelations(w http.ResponseWriter, r *http.Request) {
	scanID := r.PathValue("scanID")

	status, err := s.eventStore.GetScanStatus(r.Context(), scanID)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, NotFound("scan not found: "+err.Error()))

		return
	}

	if !store.ScanStatus(status).IsTerminal() {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("correlations are only available once the scan has finished"))

		return
	}

	results, err := s.eventStore.ListCorrelationResults(r.Context(), scanID)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to list correlations: "+err.Error()))

		return
	}

	s.writeJSON(w, r, http.StatusOK, results)
}

// handleFalsePositive bulk-flags event hashes as false positive (§4.9
// update_false_positive, idempotent).
func (s *Server) handleFalsePositive(w http.ResponseWriter, r *http.Request) {
	scanID := r.PathValue("scanID")

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	var req FalsePositiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid JSON: "+err.Error()))

		return
	}

	if len(req.Hashes) == 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("hashes cannot be empty"))

		return
	}

	if err := s.eventStore.UpdateFalsePositive(r.Context(), scanID, req.Hashes, req.Flag); err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to update false positive flag: "+err.Error()))

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}

func parseExportOptions(r *http.Request) export.Options {
	opts := export.Options{IncludeRaw: true}

	q := r.URL.Query()

	if minRisk, err := strconv.Atoi(q.Get("min_risk")); err == nil {
		opts.MinRisk = minRisk
	}

	if maxResults, err := strconv.Atoi(q.Get("max_results")); err == nil {
		opts.MaxResults = maxResults
	}

	if q.Get("include_raw") == "false" {
		opts.IncludeRaw = false
	}

	if q.Get("pretty") == "true" {
		opts.Pretty = true
	}

	if types := q.Get("types"); types != "" {
		opts.EventTypes = toSet(strings.Split(types, ","))
	}

	if modules := q.Get("modules"); modules != "" {
		opts.Modules = toSet(strings.Split(modules, ","))
	}

	return opts
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}

	return set
}

func rowsToExportEvents(rows []store.Row) []export.Event {
	events := make([]export.Event, 0, len(rows))

	for _, row := range rows {
		events = append(events, export.Event{
			EventType:   row.EventType,
			Data:        row.Data,
			Module:      row.Module,
			SourceEvent: row.SourceEventHash,
			Risk:        row.Risk,
			Timestamp:   time.UnixMilli(row.GeneratedMS).UTC(),
		})
	}

	return events
}
