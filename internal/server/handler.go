package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ggagosh/argus/internal/ai"
	"github.com/ggagosh/argus/internal/analyzer"
	"github.com/ggagosh/argus/internal/ingest"
	"github.com/ggagosh/argus/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Snapshot sources
const (
	SourceUpload = "upload"
	SourceDemo   = "demo"
)

const defaultMaxUploadBytes = 64 << 20

// Options wires a Handler to its collaborators
type Options struct {
	Store            SnapshotStore
	Commentator      ai.Commentator
	Demo             func() ([]models.LogEntry, error)
	MaxInArrayLength int
	MaxUploadBytes   int64
	Logger           *zap.Logger
}

// Handler handles HTTP requests
type Handler struct {
	store       SnapshotStore
	commentator ai.Commentator
	demo        func() ([]models.LogEntry, error)
	maxInArray  int
	maxUpload   int64
	logger      *zap.Logger

	// serializes snapshot writes and guards the analysis cache
	mu     sync.Mutex
	cached *cachedAnalysis
}

type cachedAnalysis struct {
	snapshotID string
	result     *models.AnalysisResult
}

// NewHandler creates a new HTTP handler
func NewHandler(opts Options) *Handler {
	h := &Handler{
		store:       opts.Store,
		commentator: opts.Commentator,
		demo:        opts.Demo,
		maxInArray:  opts.MaxInArrayLength,
		maxUpload:   opts.MaxUploadBytes,
		logger:      opts.Logger,
	}
	if h.maxUpload <= 0 {
		h.maxUpload = defaultMaxUploadBytes
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h
}

type errorResponse struct {
	Error string `json:"error"`
	Cause string `json:"cause,omitempty"`
}

type ingestResponse struct {
	Status   string `json:"status"`
	Received int    `json:"received"`
	Total    int    `json:"total"`
}

type selectionRequest struct {
	Index *int `json:"index"`
}

type selectionResponse struct {
	Operation  models.NormalizedOperation `json:"operation"`
	Assessment []models.Finding           `json:"assessment"`
}

type analyzeOperationRequest struct {
	Index     *int                 `json:"index"`
	Operation *ai.OperationPayload `json:"operation"`
}

// Health handles health check requests
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// UploadProfile replaces the snapshot with an uploaded profiler export and
// returns its analysis
func (h *Handler) UploadProfile(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	entries, err := ingest.Parse(http.MaxBytesReader(w, r.Body, h.maxUpload))
	if err != nil {
		h.writeInputError(w, "Failed to parse profiler export", err)
		return
	}
	h.replaceSnapshot(r.Context(), w, SourceUpload, entries)
}

// LoadDemo replaces the snapshot with the demo dataset
func (h *Handler) LoadDemo(w http.ResponseWriter, r *http.Request) {
	if h.demo == nil {
		writeError(w, http.StatusNotFound, "Demo data is not available", "")
		return
	}
	entries, err := h.demo()
	if err != nil {
		h.logger.Error("Failed to load demo data", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load demo data", err.Error())
		return
	}
	h.replaceSnapshot(r.Context(), w, SourceDemo, entries)
}

func (h *Handler) replaceSnapshot(ctx context.Context, w http.ResponseWriter, source string, entries []models.LogEntry) {
	if err := ingest.Validate(entries); err != nil {
		h.writeInputError(w, "Invalid profiler export", err)
		return
	}
	entries = h.truncate(entries)

	result, err := analyzer.Analyze(entries)
	if err != nil {
		h.logger.Error("Analysis failed", zap.String("source", source), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Analysis failed", err.Error())
		return
	}

	snap := &Snapshot{
		ID:        uuid.NewString(),
		Source:    source,
		Entries:   entries,
		UpdatedAt: time.Now().UTC(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.store.SaveSnapshot(ctx, snap); err != nil {
		h.writeSaveError(w, err)
		return
	}
	h.cached = &cachedAnalysis{snapshotID: snap.ID, result: result}

	h.logger.Info("Snapshot analyzed",
		zap.String("snapshot_id", snap.ID),
		zap.String("source", source),
		zap.Int("operations", result.TotalOperations),
		zap.Int("index_suggestions", len(result.IndexSuggestions)),
		zap.Int("pattern_groups", len(result.PatternGroups)))

	writeJSON(w, http.StatusOK, result)
}

// IngestBatch appends a watcher batch to the snapshot
func (h *Handler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var batch models.LogBatch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxUpload)).Decode(&batch); err != nil {
		h.logger.Error("Failed to decode request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if batch.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required", "")
		return
	}
	if err := ingest.Validate(batch.Entries); err != nil {
		h.writeInputError(w, "Invalid batch", err)
		return
	}

	h.logger.Debug("Received batch",
		zap.String("source", batch.Source),
		zap.Int("entries", len(batch.Entries)))

	ctx := r.Context()
	h.mu.Lock()
	defer h.mu.Unlock()

	snap, err := h.store.LoadSnapshot(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		snap = &Snapshot{Source: batch.Source}
	case err != nil:
		h.logger.Error("Failed to load snapshot", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load snapshot", "")
		return
	}

	snap.ID = uuid.NewString()
	snap.Entries = append(snap.Entries, h.truncate(batch.Entries)...)
	snap.UpdatedAt = time.Now().UTC()
	// appending keeps existing indexes valid, so the selection stays
	if err := h.store.UpdateSnapshot(ctx, snap); err != nil {
		h.writeSaveError(w, err)
		return
	}
	h.cached = nil

	writeJSON(w, http.StatusOK, ingestResponse{
		Status:   "success",
		Received: len(batch.Entries),
		Total:    len(snap.Entries),
	})
}

// ClearProfile drops the snapshot and the selection
func (h *Handler) ClearProfile(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.store.Clear(r.Context()); err != nil {
		h.logger.Error("Failed to clear snapshot", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to clear snapshot", "")
		return
	}
	h.cached = nil
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// GetAnalysis returns the analysis of the current snapshot
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	result, ok := h.currentAnalysis(r.Context(), w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) currentAnalysis(ctx context.Context, w http.ResponseWriter) (*models.AnalysisResult, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id, err := h.store.SnapshotID(ctx)
	if err == nil && h.cached != nil && h.cached.snapshotID == id {
		return h.cached.result, true
	}

	snap, ok := h.loadSnapshot(ctx, w)
	if !ok {
		return nil, false
	}

	result, err := analyzer.Analyze(snap.Entries)
	if err != nil {
		h.logger.Error("Analysis failed", zap.String("snapshot_id", snap.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Analysis failed", err.Error())
		return nil, false
	}
	h.cached = &cachedAnalysis{snapshotID: snap.ID, result: result}
	return result, true
}

// ListOperations returns the normalized operations of the snapshot
func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.loadSnapshot(r.Context(), w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshotId": snap.ID,
		"source":     snap.Source,
		"operations": analyzer.NormalizeAll(snap.Entries),
	})
}

// PutSelection stores the selected operation and returns its assessment
func (h *Handler) PutSelection(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if req.Index == nil {
		writeError(w, http.StatusBadRequest, "index is required", "")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	snap, ok := h.loadSnapshot(r.Context(), w)
	if !ok {
		return
	}
	index := *req.Index
	if index < 0 || index >= len(snap.Entries) {
		writeError(w, http.StatusBadRequest, "index out of range",
			fmt.Sprintf("snapshot has %d operations", len(snap.Entries)))
		return
	}
	if err := h.store.SaveSelection(r.Context(), index); err != nil {
		h.logger.Error("Failed to save selection", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to save selection", "")
		return
	}
	writeJSON(w, http.StatusOK, selectionOf(index, snap.Entries[index]))
}

// GetSelection returns the selected operation
func (h *Handler) GetSelection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.mu.Lock()
	defer h.mu.Unlock()

	index, err := h.store.LoadSelection(ctx)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "No operation selected", "")
		return
	}
	if err != nil {
		h.logger.Error("Failed to load selection", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load selection", "")
		return
	}

	snap, ok := h.loadSnapshot(ctx, w)
	if !ok {
		return
	}
	if index >= len(snap.Entries) {
		writeError(w, http.StatusNotFound, "No operation selected", "")
		return
	}
	writeJSON(w, http.StatusOK, selectionOf(index, snap.Entries[index]))
}

func selectionOf(index int, entry models.LogEntry) selectionResponse {
	return selectionResponse{
		Operation:  analyzer.Normalize(index, entry),
		Assessment: analyzer.Assess(entry),
	}
}

// CheckAIStatus reports whether AI commentary is available
func (h *Handler) CheckAIStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": h.aiEnabled()})
}

func (h *Handler) aiEnabled() bool {
	return h.commentator != nil && h.commentator.Enabled()
}

// AnalyzeOperation streams AI commentary for one operation as
// newline-delimited session events. The operation is given inline or by
// its index in the snapshot.
func (h *Handler) AnalyzeOperation(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if !h.aiEnabled() {
		writeError(w, http.StatusServiceUnavailable, "Failed to analyze operation", ai.ErrDisabled.Error())
		return
	}

	var req analyzeOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	var payload ai.OperationPayload
	switch {
	case req.Operation != nil:
		payload = *req.Operation
	case req.Index != nil:
		snap, ok := h.loadSnapshot(r.Context(), w)
		if !ok {
			return
		}
		if *req.Index < 0 || *req.Index >= len(snap.Entries) {
			writeError(w, http.StatusBadRequest, "index out of range", "")
			return
		}
		payload = ai.PayloadFromEntry(*req.Index, snap.Entries[*req.Index])
	default:
		writeError(w, http.StatusBadRequest, "operation or index is required", "")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	_, err := ai.Run(r.Context(), h.commentator, payload, func(ev ai.Event) error {
		if err := enc.Encode(ev); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		h.logger.Warn("Commentary failed",
			zap.String("namespace", payload.Namespace),
			zap.Error(err))
	}
}

func (h *Handler) loadSnapshot(ctx context.Context, w http.ResponseWriter) (*Snapshot, bool) {
	snap, err := h.store.LoadSnapshot(ctx)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "No profiler data loaded", "Upload a profiler export or load the demo data first")
		return nil, false
	}
	if err != nil {
		h.logger.Error("Failed to load snapshot", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load snapshot", "")
		return nil, false
	}
	return snap, true
}

func (h *Handler) truncate(entries []models.LogEntry) []models.LogEntry {
	if h.maxInArray <= 0 {
		return entries
	}
	cut, longest := ingest.TruncateLargeArrays(entries, h.maxInArray)
	if longest > h.maxInArray {
		h.logger.Info("Truncated large array operators",
			zap.Int("longest", longest),
			zap.Int("limit", h.maxInArray))
	}
	return cut
}

func (h *Handler) writeInputError(w http.ResponseWriter, message string, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, message, err.Error())
		return
	}
	h.logger.Debug(message, zap.Error(err))
	writeError(w, http.StatusBadRequest, message, err.Error())
}

func (h *Handler) writeSaveError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrEntryTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "Failed to save snapshot", err.Error())
		return
	}
	h.logger.Error("Failed to save snapshot", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Failed to save snapshot", "")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, cause string) {
	writeJSON(w, status, errorResponse{Error: message, Cause: cause})
}
