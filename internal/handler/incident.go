package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/reportdesk/internal/middleware"
	"github.com/reportdesk/internal/service"
)

type IncidentHandler struct {
	incidents     *service.IncidentService
	maxUploadSize int64
}

func NewIncidentHandler(incidents *service.IncidentService, maxUploadSize int64) *IncidentHandler {
	return &IncidentHandler{incidents: incidents, maxUploadSize: maxUploadSize}
}

func (h *IncidentHandler) Routes(r chi.Router) {
	r.Post("/incidents", h.report)
	r.Get("/incidents", h.list)
	r.Post("/incidents/{incidentID}/resolve", h.resolve)
	r.Get("/incidents/report/weekly", h.weeklyReport)
}

// report accepts multipart/form-data: title, description, severity and an
// optional photo field.
func (h *IncidentHandler) report(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "request too large")
		return
	}

	in := service.ReportIncidentInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Severity:    r.FormValue("severity"),
		ReportedBy:  middleware.GetUserID(r.Context()),
	}
	if file, header, err := r.FormFile("photo"); err == nil {
		defer file.Close()
		in.Image = file
		in.ImageName = header.Filename
	}

	incident, err := h.incidents.ReportIncident(r.Context(), in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, incident)
}

func (h *IncidentHandler) list(w http.ResponseWriter, r *http.Request) {
	incidents, err := h.incidents.ListIncidents(r.Context(),
		r.URL.Query().Get("status"), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (h *IncidentHandler) resolve(w http.ResponseWriter, r *http.Request) {
	incident, err := h.incidents.ResolveIncident(r.Context(), chi.URLParam(r, "incidentID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

func (h *IncidentHandler) weeklyReport(w http.ResponseWriter, r *http.Request) {
	rows, err := h.incidents.WeeklyReport(r.Context(), queryInt(r, "weeks", 12))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
