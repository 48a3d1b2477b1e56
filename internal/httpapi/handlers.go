// Package httpapi implements the HTTP surface spec.md §1 calls "explicitly
// out of scope" for the core but requires a thin, real implementation of
// so the service is runnable end-to-end (SPEC_FULL.md §12): palette,
// snapshot, rendered image, lock CRUD, audit log, and health. Structure
// and JSON conventions follow the teacher's handlers_http.go.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/madkind/pixelboard/internal/apply"
	"github.com/madkind/pixelboard/internal/audit"
	"github.com/madkind/pixelboard/internal/batch"
	"github.com/madkind/pixelboard/internal/broadcast"
	"github.com/madkind/pixelboard/internal/locks"
	"github.com/madkind/pixelboard/internal/platform"
)

// defaultAuditLimit matches original_source/app/main.py's /audit endpoint
// default of limit: int = 100.
const defaultAuditLimit = 100

// AuditStore is the read side of storage.Store this handler needs for
// GET /audit.
type AuditStore interface {
	ListAudit(ctx context.Context, limit int) ([]audit.Entry, error)
}

// palette is the static named-color list SPEC_FULL.md §12 calls for; it
// is advisory only — PixelEdit.color stays free-form per spec.md §3.
var palette = []struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}{
	{"black", "#000000"},
	{"white", "#FFFFFF"},
	{"red", "#FF0000"},
	{"green", "#00FF00"},
	{"blue", "#0000FF"},
	{"yellow", "#FFFF00"},
	{"cyan", "#00FFFF"},
	{"magenta", "#FF00FF"},
	{"orange", "#FFA500"},
	{"purple", "#800080"},
}

// Handler serves the HTTP surface over the shared Applier, LockIndex, and
// Broadcaster.
type Handler struct {
	log         zerolog.Logger
	applier     *apply.Applier
	locks       *locks.Index
	broadcaster *broadcast.Broadcaster
	batcher     *batch.Batcher
	store       AuditStore
	startedAt   time.Time
}

// New builds the HTTP handler bundle.
func New(log zerolog.Logger, applier *apply.Applier, idx *locks.Index, b *broadcast.Broadcaster, batcher *batch.Batcher, store AuditStore) *Handler {
	return &Handler{log: log, applier: applier, locks: idx, broadcaster: b, batcher: batcher, store: store, startedAt: time.Now()}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /palette", h.handlePalette)
	mux.HandleFunc("GET /canvas/snapshot", h.handleSnapshot)
	mux.HandleFunc("GET /canvas/image.png", h.handleImage)
	mux.HandleFunc("GET /locks", h.handleListLocks)
	mux.HandleFunc("POST /locks", h.handleCreateLock)
	mux.HandleFunc("DELETE /locks", h.handleDeleteLock)
	mux.HandleFunc("GET /audit", h.handleListAudit)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

func (h *Handler) handlePalette(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, palette)
}

type snapshotResponse struct {
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Hash         string `json:"hash"`
	LastUpdated  string `json:"last_updated"`
	BitmapBase64 string `json:"bitmap_base64"`
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	cv := h.applier.Snapshot(r.Context())
	writeJSON(w, http.StatusOK, snapshotResponse{
		Width:        cv.Width,
		Height:       cv.Height,
		Hash:         cv.Hash,
		LastUpdated:  cv.LastUpdated.Format(time.RFC3339Nano),
		BitmapBase64: base64.StdEncoding.EncodeToString(cv.Bitmap),
	})
}

// handleImage renders the canvas as a PNG. Standard library image/png is
// used deliberately here — no example in the retrieved pack exercises a
// third-party image codec, so this one case is documented in DESIGN.md as
// a justified stdlib use rather than silently reached for.
func (h *Handler) handleImage(w http.ResponseWriter, r *http.Request) {
	cv := h.applier.Snapshot(r.Context())
	img := image.NewRGBA(image.Rect(0, 0, cv.Width, cv.Height))
	for y := 0; y < cv.Height; y++ {
		for x := 0; x < cv.Width; x++ {
			rgb := cv.At(x, y)
			img.Set(x, y, color.RGBA{R: rgb.R, G: rgb.G, B: rgb.B, A: 255})
		}
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("ETag", cv.Hash)
	if err := png.Encode(w, img); err != nil {
		h.log.Error().Err(err).Msg("failed to encode canvas png")
	}
}

func (h *Handler) handleListLocks(w http.ResponseWriter, r *http.Request) {
	list, err := h.locks.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type createLockRequest struct {
	X1, Y1, X2, Y2 int
	LockedBy       string `json:"locked_by"`
	Reason         string `json:"reason,omitempty"`
}

func (h *Handler) handleCreateLock(w http.ResponseWriter, r *http.Request) {
	var req createLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	l := locks.Lock{
		X1: req.X1, Y1: req.Y1, X2: req.X2, Y2: req.Y2,
		LockedBy:  req.LockedBy,
		Reason:    req.Reason,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.locks.Put(r.Context(), l); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (h *Handler) handleDeleteLock(w http.ResponseWriter, r *http.Request) {
	var req createLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := h.locks.Delete(r.Context(), req.X1, req.Y1, req.X2, req.Y2); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListAudit serves the audit journal most-recent-first, matching
// original_source/app/main.py's GET /audit (and its limit query param,
// defaulting to 100 entries).
func (h *Handler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := h.store.ListAudit(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type healthResponse struct {
	Status            string  `json:"status"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	Subscribers       int     `json:"subscribers"`
	PendingBatchSize  int     `json:"pending_batch_size"`
	ProcessMemoryMB   float64 `json:"process_memory_mb"`
	ProcessCPUPercent float64 `json:"process_cpu_percent"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	memMB, cpuPct := platform.ProcessStats(context.Background())
	writeJSON(w, http.StatusOK, healthResponse{
		Status:            "ok",
		UptimeSeconds:     time.Since(h.startedAt).Seconds(),
		Subscribers:       h.broadcaster.Count(),
		PendingBatchSize:  h.batcher.PendingLen(),
		ProcessMemoryMB:   memMB,
		ProcessCPUPercent: cpuPct,
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
