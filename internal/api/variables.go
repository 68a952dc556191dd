package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/plclink/internal/plc"
	"github.com/nerrad567/plclink/internal/trigger"
)

// writeWaitTimeout bounds a confirmed write.
const writeWaitTimeout = 5 * time.Second

// VariableRow is one known variable. Set is false for subscriptions the
// controller has not reported yet.
type VariableRow struct {
	Key   plc.Key `json:"key"`
	Set   bool    `json:"set"`
	Value any     `json:"value"`
}

// SubscriptionRow is one registered subscription.
type SubscriptionRow struct {
	Key       plc.Key       `json:"key"`
	Namespace plc.Namespace `json:"namespace"`
	Name      string        `json:"name"`
	Observed  bool          `json:"observed"`
}

type subscribeRequest struct {
	Namespace plc.Namespace `json:"namespace"`
	Name      string        `json:"name"`
}

type writeRequest struct {
	Value *bool `json:"value"`
	Wait  bool  `json:"wait"`
}

type detectionRequest struct {
	Detected bool `json:"detected"`
}

// variableRows merges the store contents with every registered
// subscription, by canonical key, sorted by key.
func (s *Server) variableRows() []VariableRow {
	snap := s.link.Store().Snapshot()
	byKey := make(map[plc.Key]VariableRow, len(snap))
	for k, v := range snap {
		byKey[k] = VariableRow{Key: k, Set: true, Value: v}
	}
	for _, sub := range s.link.Registry().Snapshot() {
		k := plc.NewKey(plc.Namespace(sub.Namespace.Canonical()), sub.Name)
		if _, ok := byKey[k]; !ok {
			byKey[k] = VariableRow{Key: k}
		}
	}

	rows := make([]VariableRow, 0, len(byKey))
	for _, row := range byKey {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return rows
}

// handleListVariables returns every observed or subscribed variable.
func (s *Server) handleListVariables(w http.ResponseWriter, _ *http.Request) {
	rows := s.variableRows()
	writeJSON(w, http.StatusOK, map[string]any{
		"variables": rows,
		"count":     len(rows),
	})
}

// handleGetVariable returns one variable. The key may use any namespace
// spelling; it is looked up by its canonical form.
func (s *Server) handleGetVariable(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		writeBadRequest(w, "invalid key encoding")
		return
	}
	ns, name, err := plc.ParseKey(raw)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	key := plc.NewKey(plc.Namespace(ns.Canonical()), name)

	value, err := s.link.Store().Get(key)
	if errors.Is(err, plc.ErrNotSet) {
		writeError(w, http.StatusNotFound, ErrCodeNotSet, "variable "+string(key)+" has not been observed")
		return
	}
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, VariableRow{Key: key, Set: true, Value: value})
}

// handleListSubscriptions returns the registry in registration order.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, _ *http.Request) {
	subs := s.link.Registry().Snapshot()
	store := s.link.Store()
	rows := make([]SubscriptionRow, 0, len(subs))
	for _, sub := range subs {
		rows = append(rows, SubscriptionRow{
			Key:       sub.Key(),
			Namespace: sub.Namespace,
			Name:      sub.Name,
			Observed:  store.IsSet(plc.NewKey(plc.Namespace(sub.Namespace.Canonical()), sub.Name)),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subscriptions": rows,
		"count":         len(rows),
	})
}

// handleSubscribe registers a variable without a callback; its changes reach
// clients through the store.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "name is required")
		return
	}
	if _, err := req.Namespace.Index(); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "namespace: "+err.Error())
		return
	}

	s.link.Subscribe(req.Namespace, req.Name, nil)
	writeJSON(w, http.StatusCreated, SubscriptionRow{
		Key:       plc.NewKey(req.Namespace, req.Name),
		Namespace: req.Namespace,
		Name:      req.Name,
	})
}

// handleWriteVariable writes a Boolean to a controller variable.
//
// Request body:
//   - value: the Boolean to write (required)
//   - wait: when true, block up to 5s for the controller's answer
//
// Responses:
//   - 202: write queued (wait=false)
//   - 200: controller confirmed the write (wait=true)
//   - 409: link not connected
//   - 502: controller rejected the write
//   - 503: job queue full
//   - 504: no answer before the timeout
func (s *Server) handleWriteVariable(w http.ResponseWriter, r *http.Request) {
	ns := plc.Namespace(chi.URLParam(r, "ns"))
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil || name == "" {
		writeBadRequest(w, "invalid variable name")
		return
	}
	if _, err := ns.Index(); err != nil {
		writeBadRequest(w, "namespace: "+err.Error())
		return
	}

	var req writeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "value is required")
		return
	}

	key := plc.NewKey(ns, name)
	if !req.Wait {
		if err := s.link.Write(ns, name, *req.Value); err != nil {
			writeLinkError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"key": key, "value": *req.Value, "status": "accepted"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), writeWaitTimeout)
	defer cancel()
	if err := s.link.WriteWait(ctx, ns, name, *req.Value); err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": *req.Value, "status": "confirmed"})
}

// writeLinkError maps link errors to responses.
func writeLinkError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, plc.ErrNotConnected):
		writeError(w, http.StatusConflict, ErrCodeNotConnected, "controller not connected")
	case errors.Is(err, plc.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, ErrCodeQueueFull, "link busy, try again")
	case errors.Is(err, plc.ErrWriteFailed):
		writeError(w, http.StatusBadGateway, ErrCodeWriteFailed, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeWriteFailed, "timed out waiting for controller")
	default:
		writeInternalError(w, err.Error())
	}
}

// handleDetection feeds a detection result to the trigger latch.
func (s *Server) handleDetection(w http.ResponseWriter, r *http.Request) {
	if s.detector == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "trigger latch not configured")
		return
	}
	var req detectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	res, err := s.detector.Check(req.Detected)
	switch {
	case errors.Is(err, trigger.ErrDisabled):
		writeError(w, http.StatusConflict, ErrCodeTriggerDisabled, "trigger latch disabled")
	case err != nil:
		writeLinkError(w, err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}
