// Package web exposes the status matrix over HTTP as read-only JSON.
// It is a thin adapter: all decision-bearing logic lives in the
// aggregator and the cache layer.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"releasedash/src/logger"
	"releasedash/src/model"
)

// Snapshotter produces the current matrix. *aggregate.Aggregator wrapped
// with its tracked pairs satisfies this.
type Snapshotter func(ctx context.Context) (*model.Matrix, error)

// page is the rendered JSON payload for one matrix snapshot.
type page struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Branches    []branchView `json:"branches"`
	Stale       bool         `json:"stale"`
}

type branchView struct {
	Branch model.Branch        `json:"branch"`
	Health model.BranchHealth  `json:"health"`
	Cells  []*model.StatusCell `json:"cells"`
}

// Handler serves the matrix with a whole-page cache. Rendering walks the
// full matrix and is slow next to a page view, so human requests within
// the TTL get the cached page; a cron-style refresh keeps it warm.
type Handler struct {
	snapshot Snapshotter
	pageTTL  time.Duration
	log      logger.Logger

	mu       sync.Mutex
	cached   []byte
	deadline time.Time
}

// NewHandler creates the handler. pageTTL <= 0 disables the page cache.
func NewHandler(snapshot Snapshotter, pageTTL time.Duration, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NewSilentLogger()
	}
	return &Handler{snapshot: snapshot, pageTTL: pageTTL, log: log}
}

// Mux returns a request mux serving the dashboard routes.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.serveMatrix)
	mux.HandleFunc("/index.html", h.serveMatrix)
	return mux
}

func (h *Handler) serveMatrix(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}

	body, err := h.render(r.Context(), forceRefresh(r))
	if err != nil {
		// Only missing reference data reaches here; per-cell failures
		// degrade inside the matrix instead.
		h.log.Error("web: render failed: %v", err)
		http.Error(w, "dashboard unavailable: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// forceRefresh reports whether the request asked to bypass the page cache.
func forceRefresh(r *http.Request) bool {
	switch r.URL.Query().Get("refresh") {
	case "1", "yes", "true":
		return true
	}
	return false
}

func (h *Handler) render(ctx context.Context, force bool) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cached != nil && !force && time.Now().Before(h.deadline) {
		return h.cached, nil
	}

	matrix, err := h.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(buildPage(matrix))
	if err != nil {
		return nil, err
	}

	h.cached = body
	h.deadline = time.Now().Add(h.pageTTL)
	return body, nil
}

// buildPage shapes the matrix for rendering: branches in display order,
// each with its health rollup and cells, plus a page-level stale marker
// when any cell was served from an expired entry.
func buildPage(matrix *model.Matrix) page {
	p := page{GeneratedAt: matrix.GeneratedAt}

	for _, branch := range matrix.Branches {
		view := branchView{
			Branch: branch,
			Health: matrix.Health(branch),
			Cells:  []*model.StatusCell{},
		}
		for _, builder := range matrix.Builders {
			if cell := matrix.Cell(branch, builder.Name); cell != nil {
				view.Cells = append(view.Cells, cell)
				if cell.Stale {
					p.Stale = true
				}
			}
		}
		p.Branches = append(p.Branches, view)
	}
	return p
}
