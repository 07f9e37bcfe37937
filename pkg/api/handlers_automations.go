package api

import (
	"net/http"

	"github.com/ethpandaops/automatoor/pkg/store"
)

// automationRequest is the body of create and update calls. Nil fields
// are left unchanged on update.
type automationRequest struct {
	Name          *string        `json:"name"`
	ExternalID    *string        `json:"tinyfish_automation_id"`
	Description   *string        `json:"description"`
	DefaultInputs map[string]any `json:"default_inputs"`
}

func (req *automationRequest) apply(a *store.Automation) {
	if req.Name != nil {
		a.Name = *req.Name
	}

	if req.ExternalID != nil {
		a.ExternalID = *req.ExternalID
	}

	if req.Description != nil {
		a.Description = req.Description
	}

	if req.DefaultInputs != nil {
		a.DefaultInputs = store.JSONMap(req.DefaultInputs)
	}
}

func validateAutomation(a *store.Automation) string {
	switch {
	case a.Name == "":
		return "name is required"
	case a.ExternalID == "":
		return "tinyfish_automation_id is required"
	default:
		return ""
	}
}

func (s *server) handleListAutomations(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	automations, err := s.store.ListAutomations(r.Context(), page)
	if err != nil {
		s.writeStoreError(w, r, "automation", err)

		return
	}

	if automations == nil {
		automations = []store.Automation{}
	}

	writeJSON(w, http.StatusOK, automations)
}

func (s *server) handleGetAutomation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	a, err := s.store.GetAutomation(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, "automation", err)

		return
	}

	writeJSON(w, http.StatusOK, a)
}

func (s *server) handleCreateAutomation(w http.ResponseWriter, r *http.Request) {
	var req automationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	a := &store.Automation{DefaultInputs: store.JSONMap{}}
	req.apply(a)

	if msg := validateAutomation(a); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, msg)

		return
	}

	if err := s.store.CreateAutomation(r.Context(), a); err != nil {
		s.writeStoreError(w, r, "automation", err)

		return
	}

	s.log.WithField("automation_id", a.ID).Info("Automation created")

	writeJSON(w, http.StatusCreated, a)
}

func (s *server) handleUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	var req automationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	a, err := s.store.GetAutomation(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, "automation", err)

		return
	}

	req.apply(a)

	if msg := validateAutomation(a); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, msg)

		return
	}

	if err := s.store.UpdateAutomation(r.Context(), a); err != nil {
		s.writeStoreError(w, r, "automation", err)

		return
	}

	writeJSON(w, http.StatusOK, a)
}

func (s *server) handleDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	if err := s.store.DeleteAutomation(r.Context(), id); err != nil {
		s.writeStoreError(w, r, "automation", err)

		return
	}

	s.log.WithField("automation_id", id).Info("Automation deleted")

	writeJSON(w, http.StatusOK, messageResponse{"Automation deleted successfully"})
}
