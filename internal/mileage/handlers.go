package mileage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zombor/mileage-tracker/internal/extraction"
	"github.com/zombor/mileage-tracker/internal/ledger"
	"github.com/zombor/mileage-tracker/internal/scanning"
)

// maxUploadSize fits high-resolution phone photos
const maxUploadSize = int64(50 << 20)

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrDuplicateDate), errors.Is(err, ledger.ErrCapacityExceeded):
		return http.StatusConflict
	case errors.Is(err, extraction.ErrNoMileageFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, extraction.ErrOCRFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes v with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes {"error": message}; internal errors are not echoed to the client
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	switch {
	case status == http.StatusInternalServerError:
		message = "Internal server error"
	case errors.Is(err, extraction.ErrNoMileageFound):
		message = "Could not find a mileage figure in the photo"
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListEntries returns all entries, newest first unless ?order=asc
func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	order, err := ledger.ParseOrder(r.URL.Query().Get("order"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.service.Entries(order))
}

type entryRequest struct {
	Miles *int   `json:"miles"`
	Date  string `json:"date"`
}

// handleCreateEntry commits a typed entry or a confirmed candidate
func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	milesText := ""
	if req.Miles != nil {
		milesText = strconv.Itoa(*req.Miles)
	}

	record, err := s.service.AddEntry(r.Context(), milesText, req.Date)
	if err != nil {
		slog.Warn("Error creating entry", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// handleDeleteEntry deletes an entry
func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Entry ID must be a number"})
		return
	}

	if err := s.service.Delete(r.Context(), id); err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			slog.Error("Error deleting entry", "id", id, "error", err)
		}
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleScanEntry reads a dashboard photo and returns a candidate entry.
// Nothing is stored until the client posts the candidate back.
func (s *Server) handleScanEntry(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Error parsing form. Maximum size is 50MB.",
		})
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "No file was selected. Please choose a photo to upload.",
		})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Error reading file. Please try again.",
		})
		return
	}

	img := scanning.NewImage(header.Filename, data, header.Header.Get("Content-Type"))
	candidate, err := s.service.Extract(r.Context(), img)
	if err != nil {
		slog.Warn("Error scanning photo", "filename", header.Filename, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, candidate)
}

// handleSummary returns totals and bounds for the ledger
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Summary())
}

// handleStreamEntries sends one server-sent "snapshot" event per ledger change
func (s *Server) handleStreamEntries(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := s.service.Subscribe(r.Context())
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Subscription-Id", sub.ID)
	w.WriteHeader(http.StatusOK)

	slog.Info("Stream opened", "subscription", sub.ID, "remote", r.RemoteAddr)
	defer slog.Info("Stream closed", "subscription", sub.ID)

	if err := writeEvent(w, "subscribed", sub.ID, map[string]string{"subscription": sub.ID}); err != nil {
		return
	}
	flusher.Flush()

	seq := 0
	for snap := range sub.C {
		seq++
		if err := writeEvent(w, "snapshot", fmt.Sprintf("%s/%d", sub.ID, seq), snap); err != nil {
			slog.Warn("Error writing snapshot", "subscription", sub.ID, "error", err)
			return
		}
		flusher.Flush()
	}
}

// writeEvent writes one server-sent event; ids are "<subscription>/<delivery>"
func writeEvent(w io.Writer, event, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
