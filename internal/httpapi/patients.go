package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"mediboard.org/internal/auth"
)

type listPatientsResponse struct {
	Items []auth.PatientRecord `json:"items"`
	AsOf  time.Time            `json:"as_of"`
}

func (a *API) handlePatientsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		authFailure(w, auth.ErrMissingCredential)
		return
	}
	if err := auth.Authorize(actor, auth.ResourcePatient, auth.ActionList, nil); err != nil {
		a.auth.DenyAudit(r.Context(), actor, auth.ResourcePatient, auth.ActionList, err)
		authFailure(w, err)
		return
	}

	patients, err := a.patients.ListByTenant(r.Context(), actor.TenantID)
	if err != nil {
		writeFailure(w, http.StatusServiceUnavailable, "Service unavailable", CodeUnavailable)
		return
	}

	// Scope narrows the listing; it never turns into an error.
	visible := auth.FilterPatients(actor, patients)
	writeJSON(w, http.StatusOK, listPatientsResponse{
		Items: visible,
		AsOf:  time.Now().UTC(),
	})
}

func (a *API) handlePatientResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/patients/")
	id = strings.Trim(id, "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		authFailure(w, auth.ErrMissingCredential)
		return
	}

	patient, err := a.patients.Patient(r.Context(), id)
	if errors.Is(err, auth.ErrNotFound) {
		// Same shape as a scope denial so ids cannot be probed for existence.
		authFailure(w, auth.ErrOutOfScope)
		return
	}
	if err != nil {
		writeFailure(w, http.StatusServiceUnavailable, "Service unavailable", CodeUnavailable)
		return
	}

	if err := auth.Authorize(actor, auth.ResourcePatient, auth.ActionRead, auth.PatientTarget(patient)); err != nil {
		a.auth.DenyAudit(r.Context(), actor, auth.ResourcePatient, auth.ActionRead, err)
		authFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}
