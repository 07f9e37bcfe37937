package api

import (
	"net/http"

	"github.com/ethpandaops/automatoor/pkg/scheduler"
	"github.com/ethpandaops/automatoor/pkg/store"
)

// scenarioRequest is the body of create and update calls. Nil fields are
// left unchanged on update.
type scenarioRequest struct {
	Name           *string        `json:"name"`
	AutomationID   *uint          `json:"automation_id"`
	Description    *string        `json:"description"`
	InputsTemplate map[string]any `json:"inputs_template"`
	RunSettings    map[string]any `json:"run_settings"`
}

func (req *scenarioRequest) apply(sc *store.Scenario) {
	if req.Name != nil {
		sc.Name = *req.Name
	}

	if req.AutomationID != nil {
		sc.AutomationID = *req.AutomationID
	}

	if req.Description != nil {
		sc.Description = req.Description
	}

	if req.InputsTemplate != nil {
		sc.InputsTemplate = store.JSONMap(req.InputsTemplate)
	}

	if req.RunSettings != nil {
		sc.RunSettings = store.JSONMap(req.RunSettings)
	}
}

// validateScenario checks required fields and that any scheduling keys in
// run_settings are well formed.
func validateScenario(sc *store.Scenario) string {
	switch {
	case sc.Name == "":
		return "name is required"
	case sc.AutomationID == 0:
		return "automation_id is required"
	}

	rs, err := scheduler.ParseRunSettings(sc.RunSettings)
	if err != nil {
		return "run_settings: " + err.Error()
	}

	if _, _, err := rs.Spec(); err != nil {
		return "run_settings: " + err.Error()
	}

	return ""
}

func (s *server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	automationID, err := queryUint(r, "automation_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	scenarios, err := s.store.ListScenarios(r.Context(), automationID, page)
	if err != nil {
		s.writeStoreError(w, r, "scenario", err)

		return
	}

	if scenarios == nil {
		scenarios = []store.Scenario{}
	}

	writeJSON(w, http.StatusOK, scenarios)
}

func (s *server) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	sc, err := s.store.GetScenario(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, "scenario", err)

		return
	}

	writeJSON(w, http.StatusOK, sc)
}

func (s *server) handleCreateScenario(w http.ResponseWriter, r *http.Request) {
	var req scenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sc := &store.Scenario{
		InputsTemplate: store.JSONMap{},
		RunSettings:    store.JSONMap{},
	}
	req.apply(sc)

	if msg := validateScenario(sc); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, msg)

		return
	}

	if err := s.store.CreateScenario(r.Context(), sc); err != nil {
		s.writeStoreError(w, r, "automation", err)

		return
	}

	s.log.WithField("scenario_id", sc.ID).Info("Scenario created")

	writeJSON(w, http.StatusCreated, sc)
}

func (s *server) handleUpdateScenario(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	var req scenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sc, err := s.store.GetScenario(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, "scenario", err)

		return
	}

	req.apply(sc)

	if msg := validateScenario(sc); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, msg)

		return
	}

	// The scenario exists, so a not-found here is the automation.
	if err := s.store.UpdateScenario(r.Context(), sc); err != nil {
		s.writeStoreError(w, r, "automation", err)

		return
	}

	writeJSON(w, http.StatusOK, sc)
}

func (s *server) handleDeleteScenario(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	if err := s.store.DeleteScenario(r.Context(), id); err != nil {
		s.writeStoreError(w, r, "scenario", err)

		return
	}

	s.log.WithField("scenario_id", id).Info("Scenario deleted")

	writeJSON(w, http.StatusOK, messageResponse{"Scenario deleted successfully"})
}
