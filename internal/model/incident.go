package model

import "time"

type IncidentStatus string

const (
	IncidentOpen     IncidentStatus = "open"
	IncidentResolved IncidentStatus = "resolved"
)

type Incident struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Severity    string         `json:"severity"`
	Status      IncidentStatus `json:"status"`
	ImageURL    string         `json:"image_url,omitempty"`
	ReportedBy  string         `json:"reported_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// WeeklyReportRow is one aggregation bucket for the weekly incident digest.
type WeeklyReportRow struct {
	WeekStart time.Time `json:"week_start"`
	Total     int       `json:"total"`
	Resolved  int       `json:"resolved"`
}
