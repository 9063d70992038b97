package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/adflow-labs/adflow/command"
	"github.com/adflow-labs/adflow/core"
	"github.com/adflow-labs/adflow/engine"
	"github.com/adflow-labs/adflow/store"
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Workflows ---

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.store.Workflows(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if workflows == nil {
		workflows = []core.Workflow{}
	}
	writeJSON(w, http.StatusOK, workflows)
}

type createWorkflowRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBodyError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "workflow name is required")
		return
	}

	now := time.Now()
	wf := core.Workflow{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateWorkflow(r.Context(), wf); err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wf, err := s.store.Workflow(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("workflow %q not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteWorkflow(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Graph replace surface ---

type graphResponse struct {
	Nodes []command.NodeRow `json:"nodes"`
	Edges []command.EdgeRow `json:"edges"`
}

func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	nodes, edges, err := s.store.WorkflowGraph(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if nodes == nil {
		nodes = []command.NodeRow{}
	}
	if edges == nil {
		edges = []command.EdgeRow{}
	}
	writeJSON(w, http.StatusOK, graphResponse{Nodes: nodes, Edges: edges})
}

func (s *Server) handleDeleteEdges(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteEdges(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteNodes(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteNodes(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInsertNodes(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")
	var rows []command.NodeRow
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		writeBodyError(w, err)
		return
	}
	for i := range rows {
		if rows[i].WorkflowID == "" {
			rows[i].WorkflowID = workflowID
		}
		if rows[i].WorkflowID != workflowID {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR",
				fmt.Sprintf("node %s belongs to another workflow", rows[i].ID))
			return
		}
	}
	if err := s.store.InsertNodes(r.Context(), rows); err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInsertEdges(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")
	var rows []command.EdgeRow
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		writeBodyError(w, err)
		return
	}
	for i := range rows {
		if rows[i].WorkflowID == "" {
			rows[i].WorkflowID = workflowID
		}
		if rows[i].WorkflowID != workflowID {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR",
				fmt.Sprintf("edge %s belongs to another workflow", rows[i].ID))
			return
		}
	}
	if err := s.store.InsertEdges(r.Context(), rows); err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTouchWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.TouchWorkflow(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("workflow %q not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Run control ---

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.Start(r.Context(), r.PathValue("id"))
	if errors.Is(err, engine.ErrEmptyGraph) || errors.Is(err, engine.ErrCycle) {
		writeError(w, http.StatusUnprocessableEntity, "GRAPH_ERROR", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "RUN_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	execs, err := s.store.Executions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if execs == nil {
		execs = []core.Execution{}
	}
	writeJSON(w, http.StatusOK, execs)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	exec, err := s.store.Execution(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("execution %q not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.Step(r.Context(), r.PathValue("id"))
	if errors.Is(err, engine.ErrNotPaused) {
		writeError(w, http.StatusConflict, "NOT_PAUSED", err.Error())
		return
	}
	if errors.Is(err, engine.ErrNotRunning) {
		writeError(w, http.StatusNotFound, "NOT_RUNNING", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "RUN_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	err := s.runner.Cancel(r.Context(), r.PathValue("id"))
	if errors.Is(err, engine.ErrNotRunning) {
		writeError(w, http.StatusConflict, "NOT_RUNNING", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "RUN_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNodeExecutions(w http.ResponseWriter, r *http.Request) {
	recs, err := s.runner.NodeExecutions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if recs == nil {
		recs = []core.NodeExecution{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeBodyError(w http.ResponseWriter, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds size limit")
		return
	}
	writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
}
