package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/goodtune/aiji/internal/policy"
	"github.com/goodtune/aiji/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// ReloadFunc is called after a config value has been persisted.
type ReloadFunc func(ctx context.Context) error

// ConfigHandler handles the admin key/value parameters.
type ConfigHandler struct {
	store    storage.ConfigStore
	onChange ReloadFunc
	logger   zerolog.Logger
}

// NewConfigHandler creates a new config handler. onChange may be nil.
func NewConfigHandler(store storage.ConfigStore, onChange ReloadFunc, logger zerolog.Logger) *ConfigHandler {
	return &ConfigHandler{
		store:    store,
		onChange: onChange,
		logger:   logger.With().Str("handler", "config").Logger(),
	}
}

// List handles GET /api/config.
func (h *ConfigHandler) List(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list config")
		writeError(w, http.StatusServiceUnavailable, "Failed to retrieve config")
		return
	}

	writeJSON(w, http.StatusOK, settings)
}

// Get handles GET /api/config/{key}.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	value, err := h.store.Get(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Config key not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("key", key).Msg("Failed to get config")
		writeError(w, http.StatusServiceUnavailable, "Failed to retrieve config")
		return
	}

	writeJSON(w, http.StatusOK, ConfigValue{Key: key, Value: value})
}

// Set handles PUT /api/config/{key}.
func (h *ConfigHandler) Set(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(mux.Vars(r)["key"])
	if key == "" {
		writeError(w, http.StatusBadRequest, "Config key is required")
		return
	}

	var req ConfigValue
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := policy.ValidateSetting(key, req.Value); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Set(r.Context(), key, req.Value); err != nil {
		h.logger.Error().Err(err).Str("key", key).Msg("Failed to set config")
		writeError(w, http.StatusServiceUnavailable, "Failed to save config")
		return
	}

	h.logger.Info().Str("key", key).Str("value", req.Value).Msg("Config updated")

	if h.onChange != nil {
		if err := h.onChange(r.Context()); err != nil {
			// The value is persisted and will apply on the next reload
			h.logger.Warn().Err(err).Str("key", key).Msg("Failed to reload thresholds")
		}
	}

	writeJSON(w, http.StatusOK, ConfigValue{Key: key, Value: req.Value})
}
