package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/oncall-dispatch/internal/middleware"
	"github.com/capitalize-ai/oncall-dispatch/internal/model"
	"github.com/capitalize-ai/oncall-dispatch/internal/registry"
	"github.com/capitalize-ai/oncall-dispatch/pkg/logger"
	"github.com/capitalize-ai/oncall-dispatch/pkg/metrics"
)

// Loader reloads workflow definitions from their source.
type Loader interface {
	Load() (*registry.Snapshot, error)
}

// WorkflowHandler handles workflow administration endpoints.
type WorkflowHandler struct {
	registry *registry.Registry
	loader   Loader
}

// NewWorkflowHandler creates a new workflow handler.
func NewWorkflowHandler(reg *registry.Registry, loader Loader) *WorkflowHandler {
	return &WorkflowHandler{registry: reg, loader: loader}
}

// WorkflowList describes the current registry snapshot.
type WorkflowList struct {
	Version   uint64                     `json:"version"`
	LoadedAt  time.Time                  `json:"loaded_at"`
	Workflows []model.WorkflowDefinition `json:"workflows"`
}

func listOf(snap *registry.Snapshot) WorkflowList {
	defs := snap.All()
	if defs == nil {
		defs = []model.WorkflowDefinition{}
	}
	return WorkflowList{Version: snap.Version, LoadedAt: snap.LoadedAt, Workflows: defs}
}

// List handles GET /api/v1/workflows
func (h *WorkflowHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, listOf(h.registry.Snapshot()))
}

// Reload handles POST /api/v1/workflows/reload
func (h *WorkflowHandler) Reload(w http.ResponseWriter, r *http.Request) {
	snap, err := h.loader.Load()
	if err != nil {
		var verr *registry.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  "invalid workflow document",
				"issues": verr.Issues,
			})
			return
		}
		logger.FromContext(r.Context()).Error("workflow reload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "workflow reload failed")
		return
	}

	logger.FromContext(r.Context()).Info("workflows reloaded",
		zap.Uint64("version", snap.Version),
		zap.Int("workflows", snap.Len()),
	)
	writeJSON(w, http.StatusOK, listOf(snap))
}

// Disable handles POST /api/v1/workflows/{name}/disable
func (h *WorkflowHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

// Enable handles POST /api/v1/workflows/{name}/enable
func (h *WorkflowHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

func (h *WorkflowHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	name := chi.URLParam(r, "name")
	if err := middleware.ValidateWorkflowName(name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var err error
	if enabled {
		err = h.registry.Enable(name)
	} else {
		err = h.registry.Disable(name)
	}
	if errors.Is(err, registry.ErrUnknownWorkflow) {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	snap := h.registry.Snapshot()
	metrics.SetRegistrySize(len(snap.Active()), snap.Len())
	logger.FromContext(r.Context()).Info("workflow toggled",
		zap.String("workflow", name),
		zap.Bool("enabled", enabled),
		zap.String("by", middleware.GetUserID(r.Context())),
	)

	def, _ := snap.Lookup(name)
	writeJSON(w, http.StatusOK, def)
}
