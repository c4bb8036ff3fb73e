package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/devicesync/internal/session"
)

// nameRequest is the request body for creating devices and components.
type nameRequest struct {
	Name string `json:"name"`
}

// sensorRequest is the request body for POST /sensors. Values may be sent
// as JSON numbers or numeric strings.
type sensorRequest struct {
	Value1 flexString `json:"value_1"`
	Value2 flexString `json:"value_2"`
}

// flexString accepts a JSON string or number and keeps its text.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected a number or string: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

// handleListDevices returns the owner's devices as {_id, name} pairs.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.session.Devices(r.Context())
	if err != nil {
		s.writeSessionError(w, "list devices", err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

// handleGetDevice returns a single device with its components.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.session.Device(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeSessionError(w, "get device", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleCreateDevice creates a device. A created device is returned with
// 201; a failed creation is reported in the result message with 200.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	res, err := s.session.CreateDevice(r.Context(), req.Name)
	if err != nil {
		s.writeSessionError(w, "create device", err)
		return
	}

	status := http.StatusOK
	if ref, ok := res.Result.(session.DeviceRef); ok {
		status = http.StatusCreated
		s.auditLog(r, "create", "Device", ref.ID, map[string]any{"name": ref.Name})
	}
	writeJSON(w, status, res)
}

// handleAddComponent adds a component to the owner's first device.
func (s *Server) handleAddComponent(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.writeAudited(w, r, "add component", "add_component", "Component",
		map[string]any{"name": req.Name})(s.session.AddComponent(r.Context(), req.Name))
}

// handleAddSensor queues a sensor reading.
func (s *Server) handleAddSensor(w http.ResponseWriter, r *http.Request) {
	var req sensorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.writeAudited(w, r, "add sensor reading", "add_sensor", "SensorReading",
		nil)(s.session.AddSensor(r.Context(), string(req.Value1), string(req.Value2)))
}

// writeAudited is writeResult plus a journal entry carrying the result
// message.
func (s *Server) writeAudited(w http.ResponseWriter, r *http.Request, op, action, recordType string, details map[string]any) func(session.Result, error) {
	write := s.writeResult(w, op)
	return func(res session.Result, err error) {
		if err == nil {
			if details == nil {
				details = map[string]any{}
			}
			details["result"] = res.Message()
			s.auditLog(r, action, recordType, "", details)
		}
		write(res, err)
	}
}

// writeResult returns a writer for a session operation's outcome.
func (s *Server) writeResult(w http.ResponseWriter, op string) func(session.Result, error) {
	return func(res session.Result, err error) {
		if err != nil {
			s.writeSessionError(w, op, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
