package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/davteix/sirenwatch/internal/siren"
)

// handleListDevices returns the full reconciled device view.
//
// GET /api/v1/devices
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	records := s.store.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": records,
		"count":   len(records),
	})
}

// handleGetDevice returns one device record.
//
// GET /api/v1/devices/{deviceID}
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	rec, ok := s.store.Get(deviceID)
	if !ok {
		writeNotFound(w, "unknown device: "+deviceID)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// commandRequest is the body of a device command post.
type commandRequest struct {
	Action string `json:"action"`
	Cause  string `json:"cause,omitempty"`
}

// handleDeviceCommand dispatches an ON/OFF command to a device.
//
// POST /api/v1/devices/{deviceID}/cmd
//
// The response is 202: acceptance means the command went out, not that
// the device obeyed. The outcome arrives as a WebSocket state change
// once the acknowledgement lands.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	if _, ok := s.store.Get(deviceID); !ok {
		writeNotFound(w, "unknown device: "+deviceID)
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cause := siren.Cause(req.Cause)
	if cause == "" {
		cause = siren.CauseAPI
	}

	err := s.dispatcher.Send(r.Context(), deviceID, siren.SwitchState(req.Action), cause)
	switch {
	case err == nil:
		rec, _ := s.store.Get(deviceID)
		writeJSON(w, http.StatusAccepted, rec)
	case errors.Is(err, siren.ErrInvalidAction):
		writeBadRequest(w, "action must be ON or OFF")
	case errors.Is(err, siren.ErrCommandFailed):
		s.logger.Warn("command dispatch failed", "device_id", deviceID, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, "backend rejected the command")
	default:
		s.logger.Error("command dispatch error", "device_id", deviceID, "error", err)
		writeInternalError(w, "command dispatch failed")
	}
}
