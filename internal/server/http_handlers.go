package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/knowledge"
)

// registerHTTPHandlers sets up the REST routes.
func (s *Server) registerHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /nodes", s.handleNodeAdd)
	mux.HandleFunc("GET /nodes/{id}", s.handleNodeGet)
	mux.HandleFunc("DELETE /nodes/{id}", s.handleNodeRemove)
	mux.HandleFunc("PUT /nodes/{id}/embedding", s.handleNodeReembed)
	mux.HandleFunc("GET /nodes/{id}/edges", s.handleNodeEdges)

	mux.HandleFunc("POST /edges", s.handleEdgeAdd)
	mux.HandleFunc("GET /edges/{id}", s.handleEdgeGet)
	mux.HandleFunc("DELETE /edges/{id}", s.handleEdgeRemove)
	mux.HandleFunc("PUT /edges/{id}/roles/{node}", s.handleRoleSet)
	mux.HandleFunc("DELETE /edges/{id}/roles/{node}", s.handleRoleClear)

	mux.HandleFunc("POST /query", s.handleQuery)

	mux.HandleFunc("POST /knowledge", s.handleKnowledgeAdd)
	mux.HandleFunc("POST /knowledge/retrieve", s.handleKnowledgeRetrieve)
	mux.HandleFunc("POST /knowledge/forget", s.handleKnowledgeForget)

	mux.HandleFunc("GET /system/stats", s.handleStats)
	mux.HandleFunc("GET /system/dump", s.handleDump)
	mux.HandleFunc("POST /system/save", s.handleSave)
	mux.HandleFunc("POST /system/repair", s.handleRepair)
	mux.HandleFunc("GET /system/tasks/{id}", s.handleTaskGet)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- nodes ---

func (s *Server) handleNodeAdd(w http.ResponseWriter, r *http.Request) {
	var req NodeAddRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.Engine.AddNode(req.Embedding, req.Label)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusCreated, NodeAddResponse{ID: id})
}

func (s *Server) handleNodeGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	n, err := s.Engine.Node(types.NodeID(id))
	if err != nil {
		s.writeError(w, err)
		return
	}
	edges, err := s.Engine.EdgesTouching(n.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, NodeResponse{ID: n.ID, Label: n.Label, Embedding: n.Embedding, Edges: edges})
}

func (s *Server) handleNodeRemove(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	removed, err := s.Engine.RemoveNode(types.NodeID(id))
	if removed == nil {
		removed = []types.EdgeID{}
	}
	switch {
	case err == nil:
		s.writeHTTPResponse(w, http.StatusOK, NodeRemoveResponse{RemovedEdges: removed})
	case errors.Is(err, types.ErrPartialFailure):
		s.writeHTTPResponse(w, http.StatusConflict, NodeRemoveResponse{RemovedEdges: removed, Error: err.Error()})
	default:
		s.writeError(w, err)
	}
}

func (s *Server) handleNodeReembed(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req ReembedRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.Engine.ReembedNode(types.NodeID(id), req.Embedding); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNodeEdges(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	edges, err := s.Engine.EdgesTouching(types.NodeID(id))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, map[string]any{"edges": edges})
}

// --- edges ---

func (s *Server) handleEdgeAdd(w http.ResponseWriter, r *http.Request) {
	var req EdgeAddRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.Engine.AddEdge(req.Sources, req.Targets, req.Relation)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusCreated, EdgeAddResponse{ID: id})
}

func (s *Server) handleEdgeGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	e, err := s.Engine.Edge(types.EdgeID(id))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, EdgeResponse{ID: e.ID, Relation: e.Relation, Sources: e.Sources, Targets: e.Targets})
}

func (s *Server) handleEdgeRemove(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.Engine.RemoveEdge(types.EdgeID(id)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRoleSet(w http.ResponseWriter, r *http.Request) {
	edge, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	node, ok := s.pathID(w, r, "node")
	if !ok {
		return
	}
	var req RoleRequest
	if !s.decode(w, r, &req) {
		return
	}
	role, err := types.ParseRole(req.Role)
	if err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Engine.SetRole(types.EdgeID(edge), types.NodeID(node), role); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRoleClear(w http.ResponseWriter, r *http.Request) {
	edge, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	node, ok := s.pathID(w, r, "node")
	if !ok {
		return
	}
	if err := s.Engine.ClearRole(types.EdgeID(edge), types.NodeID(node)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- query ---

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !s.decode(w, r, &req) {
		return
	}
	results, err := s.Engine.QueryRelated(req.Embedding, req.TopK, req.MinSimilarity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, QueryResponse{Results: results})
}

// --- knowledge ---

func (s *Server) knowledgeBase(w http.ResponseWriter) (*knowledge.Base, bool) {
	if s.Knowledge == nil {
		s.writeHTTPError(w, http.StatusNotImplemented, "knowledge endpoints require an embedder")
		return nil, false
	}
	return s.Knowledge, true
}

func (s *Server) handleKnowledgeAdd(w http.ResponseWriter, r *http.Request) {
	kb, ok := s.knowledgeBase(w)
	if !ok {
		return
	}
	var req KnowledgeAddRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := kb.AddKnowledge(r.Context(), req.Concepts, req.Related, req.Relation)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusCreated, res)
}

func (s *Server) handleKnowledgeRetrieve(w http.ResponseWriter, r *http.Request) {
	kb, ok := s.knowledgeBase(w)
	if !ok {
		return
	}
	var req RetrieveRequest
	if !s.decode(w, r, &req) {
		return
	}
	k, err := kb.Retrieve(r.Context(), req.Query, req.TopK, req.MinSimilarity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, RetrieveResponse{Knowledge: k, Markdown: k.Markdown()})
}

func (s *Server) handleKnowledgeForget(w http.ResponseWriter, r *http.Request) {
	kb, ok := s.knowledgeBase(w)
	if !ok {
		return
	}
	var req ForgetRequest
	if !s.decode(w, r, &req) {
		return
	}
	removed, err := kb.Forget(r.Context(), req.Concept)
	if err != nil && !errors.Is(err, types.ErrPartialFailure) {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	resp := NodeRemoveResponse{RemovedEdges: removed}
	if err != nil {
		status, resp.Error = http.StatusConflict, err.Error()
	}
	if resp.RemovedEdges == nil {
		resp.RemovedEdges = []types.EdgeID{}
	}
	s.writeHTTPResponse(w, status, resp)
}

// --- system ---

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, StatsResponse{
		Stats:    s.Engine.Stats(),
		Sequence: s.Engine.Sequence(),
		Dirty:    s.Engine.Dirty(),
	})
}

// handleDump streams a portable dump of the graph.
func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", s.Engine.Name()+".kgs"))
	if err := s.Engine.Dump(w); err != nil {
		// Nothing is written before Dump fails its precondition checks.
		w.Header().Del("Content-Disposition")
		s.writeError(w, err)
	}
}

// handleSave runs a snapshot. With ?async=true it returns 202 and a task id.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("async") == "true" {
		task := s.taskManager.Start("snapshot", func() (any, error) {
			return nil, s.Engine.SaveSnapshot()
		})
		s.writeHTTPResponse(w, http.StatusAccepted, task.View())
		return
	}
	if err := s.Engine.SaveSnapshot(); err != nil {
		slog.Error("snapshot via HTTP failed", "error", err)
		s.writeError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "OK", "path": s.Engine.SnapshotPath()})
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("async") == "true" {
		task := s.taskManager.Start("repair", func() (any, error) {
			n, err := s.Engine.RepairIndex()
			return map[string]int{"repaired": n}, err
		})
		s.writeHTTPResponse(w, http.StatusAccepted, task.View())
		return
	}
	n, err := s.Engine.RepairIndex()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, map[string]any{"repaired": n, "pending": s.Engine.PendingRepairs()})
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	task, ok := s.taskManager.GetTask(r.PathValue("id"))
	if !ok {
		s.writeHTTPError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, task.View())
}

// --- helpers ---

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil || id == 0 {
		s.writeHTTPError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s %q", name, r.PathValue(name)))
		return 0, false
	}
	return id, true
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrUnknownNode), errors.Is(err, types.ErrUnknownEdge):
		return http.StatusNotFound
	case errors.Is(err, types.ErrPartialFailure):
		return http.StatusConflict
	case errors.Is(err, types.ErrCorruptState):
		return http.StatusInternalServerError
	case errors.Is(err, types.ErrEmptyEndpointSet),
		errors.Is(err, types.ErrSourceTargetOverlap),
		errors.Is(err, types.ErrDimensionMismatch),
		errors.Is(err, types.ErrInvalidTopK),
		errors.Is(err, types.ErrInvalidThreshold),
		errors.Is(err, types.ErrNotIncident),
		errors.Is(err, knowledge.ErrEmptyInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeHTTPError(w, statusFor(err), err.Error())
}

func (s *Server) writeHTTPResponse(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeHTTPError(w http.ResponseWriter, statusCode int, message string) {
	s.writeHTTPResponse(w, statusCode, map[string]string{"error": message})
}
