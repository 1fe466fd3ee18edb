package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bifrost-gw/bifrost/internal/service"
	"github.com/bifrost-gw/bifrost/internal/store"
)

// The admin surface mutates the persistence collaborator, then schedules an
// asynchronous registry reload so the serving path picks up changes without
// blocking the admin response.

func (g *Gateway) handleAdminList(w http.ResponseWriter, r *http.Request) {
	defs, err := g.st.List(r.Context())
	if err != nil {
		g.log.Error("admin list services failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if defs == nil {
		defs = []*service.Definition{}
	}
	writeJSON(w, http.StatusOK, defs)
}

func (g *Gateway) handleAdminCreate(w http.ResponseWriter, r *http.Request) {
	// is_active defaults to true when the body omits it.
	def := service.Definition{IsActive: true}
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed request body")
		return
	}
	def.Normalize()
	if err := def.Validate(); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := g.st.GetByName(r.Context(), def.Name); err == nil {
		writeDetail(w, http.StatusBadRequest,
			fmt.Sprintf("Service with name '%s' already exists", def.Name))
		return
	}
	if err := g.st.Create(r.Context(), &def); err != nil {
		g.log.Error("admin create service failed", "name", def.Name, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	g.log.Info("service created", "id", def.ID, "name", def.Name)
	g.TriggerReload()
	writeJSON(w, http.StatusCreated, &def)
}

func (g *Gateway) handleAdminGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	def, err := g.st.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("Service with ID %s not found", id))
		return
	}
	if err != nil {
		g.log.Error("admin get service failed", "id", id, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// servicePatch carries the optional fields of a partial update.
type servicePatch struct {
	DisplayName        *string            `json:"display_name"`
	BaseURL            *string            `json:"base_url"`
	HealthCheckPath    *string            `json:"health_check_path"`
	TimeoutSeconds     *int               `json:"timeout_seconds"`
	RateLimitPerMinute *int               `json:"rate_limit_per_minute"`
	IsActive           *bool              `json:"is_active"`
	Description        *string            `json:"description"`
	Metadata           *map[string]string `json:"metadata"`
}

func (g *Gateway) handleAdminUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	def, err := g.st.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("Service with ID %s not found", id))
		return
	}
	if err != nil {
		g.log.Error("admin load service failed", "id", id, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	var patch servicePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if patch.DisplayName != nil {
		def.DisplayName = *patch.DisplayName
	}
	if patch.BaseURL != nil {
		def.BaseURL = *patch.BaseURL
	}
	if patch.HealthCheckPath != nil {
		def.HealthCheckPath = *patch.HealthCheckPath
	}
	if patch.TimeoutSeconds != nil {
		def.TimeoutSeconds = *patch.TimeoutSeconds
	}
	if patch.RateLimitPerMinute != nil {
		def.RateLimitPerMinute = *patch.RateLimitPerMinute
	}
	if patch.IsActive != nil {
		def.IsActive = *patch.IsActive
	}
	if patch.Description != nil {
		def.Description = *patch.Description
	}
	if patch.Metadata != nil {
		def.Metadata = *patch.Metadata
	}

	def.Normalize()
	if err := def.Validate(); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := g.st.Update(r.Context(), def); err != nil {
		g.log.Error("admin update service failed", "id", id, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	g.log.Info("service updated", "id", def.ID, "name", def.Name)
	g.TriggerReload()
	writeJSON(w, http.StatusOK, def)
}

func (g *Gateway) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	def, err := g.st.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("Service with ID %s not found", id))
		return
	}
	if err != nil {
		g.log.Error("admin load service failed", "id", id, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if err := g.st.Delete(r.Context(), id); err != nil {
		g.log.Error("admin delete service failed", "id", id, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if g.svcLimiter != nil {
		g.svcLimiter.Remove(def.Name)
	}
	g.log.Info("service deleted", "id", id, "name", def.Name)
	g.TriggerReload()
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Service '%s' removed successfully", def.Name),
	})
}

func (g *Gateway) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := g.st.Stats(r.Context())
	if err != nil {
		g.log.Error("admin stats failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (g *Gateway) handleAdminReload(w http.ResponseWriter, _ *http.Request) {
	g.TriggerReload()
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "registry reload scheduled"})
}
