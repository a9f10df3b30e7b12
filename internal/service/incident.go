package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/reportdesk/internal/apperr"
	"github.com/reportdesk/internal/email"
	"github.com/reportdesk/internal/logger"
	"github.com/reportdesk/internal/model"
	"github.com/reportdesk/internal/repository"
	"github.com/reportdesk/internal/storage"
)

type IncidentStore interface {
	Create(ctx context.Context, in *model.Incident) error
	GetByID(ctx context.Context, id string) (*model.Incident, error)
	List(ctx context.Context, status string, limit, offset int) ([]model.Incident, error)
	UpdateStatus(ctx context.Context, id string, status model.IncidentStatus, at time.Time) error
	WeeklyReport(ctx context.Context, since time.Time) ([]model.WeeklyReportRow, error)
}

// IncidentService handles incident reports: persistence, the optional photo
// attachment and the notification mail fan-out.
type IncidentService struct {
	incidents IncidentStore
	users     UserDirectory
	blobs     storage.Store
	mailer    email.Mailer
	notifyTo  []string
}

func NewIncidentService(incidents IncidentStore, users UserDirectory, blobs storage.Store, mailer email.Mailer, notifyTo []string) *IncidentService {
	return &IncidentService{incidents: incidents, users: users, blobs: blobs, mailer: mailer, notifyTo: notifyTo}
}

type ReportIncidentInput struct {
	Title       string
	Description string
	Severity    string
	ReportedBy  string
	ImageName   string
	Image       io.Reader
}

var knownSeverities = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}

// ReportIncident stores the incident, uploads the attached photo if any and
// mails the on-call list. Mail failures are logged, not surfaced; the report
// itself is already durable.
func (s *IncidentService) ReportIncident(ctx context.Context, in ReportIncidentInput) (*model.Incident, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperr.Validation("incident title is required")
	}
	if !knownSeverities[in.Severity] {
		return nil, apperr.Validation(fmt.Sprintf("unknown severity %q", in.Severity))
	}
	reporter, err := s.users.GetByID(ctx, in.ReportedBy)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("user " + in.ReportedBy + " not found")
		}
		return nil, apperr.Upstream("user lookup failed", err)
	}

	var imageURL string
	if in.Image != nil {
		url, _, err := s.blobs.Upload(ctx, in.ImageName, in.Image)
		if err != nil {
			return nil, apperr.Validation("image upload failed: " + err.Error())
		}
		imageURL = url
	}

	now := time.Now().UTC()
	incident := &model.Incident{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Severity:    in.Severity,
		Status:      model.IncidentOpen,
		ImageURL:    imageURL,
		ReportedBy:  in.ReportedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.incidents.Create(ctx, incident); err != nil {
		return nil, apperr.Upstream("create incident failed", err)
	}

	if s.mailer != nil && len(s.notifyTo) > 0 {
		go s.notify(incident, reporter)
	}
	return incident, nil
}

func (s *IncidentService) notify(in *model.Incident, reporter *model.User) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(in.Severity), in.Title)
	body := fmt.Sprintf("Reported by %s\n\n%s", reporter.DisplayName(), in.Description)
	if in.ImageURL != "" {
		body += "\n\nPhoto: " + in.ImageURL
	}
	if err := s.mailer.Send(ctx, s.notifyTo, subject, body); err != nil {
		logger.Errorf("incident notify mail: %v", err)
	}
}

func (s *IncidentService) ListIncidents(ctx context.Context, status string, limit, offset int) ([]model.Incident, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if status != "" && status != string(model.IncidentOpen) && status != string(model.IncidentResolved) {
		return nil, apperr.Validation(fmt.Sprintf("unknown status %q", status))
	}
	out, err := s.incidents.List(ctx, status, limit, offset)
	if err != nil {
		return nil, apperr.Upstream("list incidents failed", err)
	}
	return out, nil
}

func (s *IncidentService) ResolveIncident(ctx context.Context, id string) (*model.Incident, error) {
	if err := s.incidents.UpdateStatus(ctx, id, model.IncidentResolved, time.Now().UTC()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("incident not found")
		}
		return nil, apperr.Upstream("resolve incident failed", err)
	}
	incident, err := s.incidents.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Upstream("incident lookup failed", err)
	}
	return incident, nil
}

// WeeklyReport aggregates incident counts per week for the digest view.
func (s *IncidentService) WeeklyReport(ctx context.Context, weeks int) ([]model.WeeklyReportRow, error) {
	if weeks <= 0 || weeks > 52 {
		weeks = 12
	}
	since := time.Now().UTC().AddDate(0, 0, -7*weeks)
	rows, err := s.incidents.WeeklyReport(ctx, since)
	if err != nil {
		return nil, apperr.Upstream("weekly report failed", err)
	}
	return rows, nil
}
