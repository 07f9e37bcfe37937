package api

import (
	"errors"
	"net/http"

	"github.com/ethpandaops/automatoor/pkg/kpi"
	"github.com/ethpandaops/automatoor/pkg/store"
	"github.com/ethpandaops/automatoor/pkg/upload"
)

type triggerRunRequest struct {
	ScenarioID     uint           `json:"scenario_id"`
	InputsOverride map[string]any `json:"inputs_override"`
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	scenarioID, err := queryUint(r, "scenario_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	filter := store.RunFilter{ScenarioID: scenarioID}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := store.RunStatus(raw)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status "+raw)

			return
		}

		filter.Status = status
	}

	runs, err := s.store.ListRuns(r.Context(), filter, page)
	if err != nil {
		s.writeStoreError(w, r, "run", err)

		return
	}

	if runs == nil {
		runs = []store.Run{}
	}

	writeJSON(w, http.StatusOK, runs)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, "run", err)

		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (s *server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	if err := s.store.DeleteRun(r.Context(), id); err != nil {
		s.writeStoreError(w, r, "run", err)

		return
	}

	writeJSON(w, http.StatusOK, messageResponse{"Run deleted successfully"})
}

// handleTriggerRun creates a pending run and returns it before execution
// starts. The outcome is visible only by polling the run.
func (s *server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var req triggerRunRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.ScenarioID == 0 {
		writeError(w, http.StatusUnprocessableEntity, "scenario_id is required")

		return
	}

	run, err := s.dispatcher.TriggerRun(r.Context(), req.ScenarioID, req.InputsOverride)
	if err != nil {
		s.writeStoreError(w, r, "scenario", err)

		return
	}

	writeJSON(w, http.StatusAccepted, run)
}

// handleGetRunArchive returns the archived copy of a run.
func (s *server) handleGetRunArchive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		s.writeStoreError(w, r, "run", err)

		return
	}

	data, err := s.archiver.Fetch(r.Context(), id)
	if err != nil {
		if errors.Is(err, upload.ErrNotArchived) {
			writeError(w, http.StatusNotFound, "run not archived")

			return
		}

		s.writeStoreError(w, r, "run", err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	scenarioID, err := queryUint(r, "scenario_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	kpis, err := s.aggregator.ComputeDashboard(r.Context(), kpi.Filter{ScenarioID: scenarioID})
	if err != nil {
		s.writeStoreError(w, r, "scenario", err)

		return
	}

	writeJSON(w, http.StatusOK, kpis)
}
