package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dkriz/voicegate/internal/store"
)

// handleListDevices returns known devices, most recently seen first.
func (r *Router) handleListDevices(w http.ResponseWriter, req *http.Request) {
	limit := 100
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, `{"error": "invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}

	devices, err := r.store.ListDevices(req.Context(), limit)
	if err != nil {
		r.logger.Printf("devices: failed to list: %v", err)
		captureError(req, err, "devices: list failed")
		http.Error(w, `{"error": "failed to list devices"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// handleDeviceEvents returns the newest session events for one device.
func (r *Router) handleDeviceEvents(w http.ResponseWriter, req *http.Request) {
	mac := req.PathValue("mac")
	if mac == "" {
		http.Error(w, `{"error": "missing mac"}`, http.StatusBadRequest)
		return
	}

	limit := 100
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, `{"error": "invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := r.eventLog.Recent(req.Context(), mac, limit)
	if err != nil {
		r.logger.Printf("devices: failed to load events for %s: %v", mac, err)
		captureError(req, err, "devices: event load failed")
		http.Error(w, `{"error": "failed to load events"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleSaveMemory replaces a device's long-term memory summary.
func (r *Router) handleSaveMemory(w http.ResponseWriter, req *http.Request) {
	mac := req.PathValue("mac")
	if mac == "" {
		http.Error(w, `{"error": "missing mac"}`, http.StatusBadRequest)
		return
	}

	var body struct {
		Memory string `json:"memory"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := r.store.SaveMemory(req.Context(), mac, body.Memory); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, `{"error": "device not found"}`, http.StatusNotFound)
			return
		}
		r.logger.Printf("devices: failed to save memory for %s: %v", mac, err)
		captureError(req, err, "devices: memory save failed")
		http.Error(w, `{"error": "failed to save memory"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "saved"})
}
