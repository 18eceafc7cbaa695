// Package admin exposes the supervisor's control surface over HTTP: run
// state, registry mutation, reachability checks and signal delivery.
package admin

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pgkeeper/pgkeeper/notify"
	"github.com/pgkeeper/pgkeeper/registry"
	"github.com/pgkeeper/pgkeeper/supervisor"
)

// StateSource reports the supervisor run state.
type StateSource interface {
	Snapshot() supervisor.StateSnapshot
}

// Mutator is the registry mutation surface the handlers call into.
type Mutator interface {
	AddNode(ctx context.Context, name, conninfo string) (*registry.Node, error)
	RemoveNode(ctx context.Context, name string) (bool, error)
	RemoveNodeBySeqno(ctx context.Context, seqno int64) (bool, error)
	CheckReachable(ctx context.Context, conninfo string) bool
	Store() *registry.Store
}

// Handlers carries the collaborators for the admin endpoints.
type Handlers struct {
	state   StateSource
	mutator Mutator
	cell    *notify.Cell
	hostID  string
}

func NewHandlers(state StateSource, mutator Mutator, cell *notify.Cell, hostID string) *Handlers {
	return &Handlers{state: state, mutator: mutator, cell: cell, hostID: hostID}
}

type nodeRequest struct {
	Name     string `json:"name"`
	Conninfo string `json:"conninfo"`
}

type checkRequest struct {
	Conninfo string `json:"conninfo"`
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.state.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"node_name":   snap.NodeName,
		"role":        snap.Role,
		"status":      snap.Status,
		"retry_count": snap.RetryCount,
		"pid":         snap.Pid,
		"host_id":     h.hostID,
	})
}

func (h *Handlers) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.mutator.Store().ListNodes(r.Context(), true)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if nodes == nil {
		nodes = []registry.Node{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

func (h *Handlers) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var req nodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	node, err := h.mutator.AddNode(r.Context(), req.Name, req.Conninfo)
	if err != nil {
		writeErrorResponse(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

func (h *Handlers) handleDeleteNode(w http.ResponseWriter, r *http.Request, name string) {
	ok, err := h.mutator.RemoveNode(r.Context(), name)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "no such node")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": name})
}

func (h *Handlers) handleDeleteNodeBySeqno(w http.ResponseWriter, r *http.Request, seqno int64) {
	ok, err := h.mutator.RemoveNodeBySeqno(r.Context(), seqno)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "no such seqno")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted_seqno": seqno})
}

func (h *Handlers) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	reachable := h.mutator.CheckReachable(r.Context(), req.Conninfo)
	writeJSON(w, http.StatusOK, map[string]any{"reachable": reachable})
}

func (h *Handlers) handleSignal(w http.ResponseWriter, r *http.Request, name string) {
	if _, err := notify.LookupSignal(name); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	pid, err := h.cell.Read()
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := notify.SendNamed(pid, name); err != nil {
		writeErrorResponse(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signal": name, "pid": pid})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
