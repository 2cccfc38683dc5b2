package store

import (
	"context"
	"errors"
	"time"

	"github.com/labsage/backend/internal/models"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidTransition = errors.New("invalid incident status transition")
)

type FactQuery struct {
	ResourceRef string
	FactType    models.FactType
	Since       time.Time
	Until       time.Time
	Limit       int
}

type IncidentQuery struct {
	Status      models.IncidentStatus
	ResourceRef string
	Limit       int
}

type LogQuery struct {
	ResourceRef string
	Level       models.LogLevel
	Since       time.Time
	Until       time.Time
	Ascending   bool
	Limit       int
}

type SummaryQuery struct {
	ResourceRef string
	Since       time.Time
	Limit       int
}

// FactStore is append-only: facts are never updated or deleted.
type FactStore interface {
	AppendFacts(ctx context.Context, facts []models.Fact) error
	ResourcesWithFactsSince(ctx context.Context, factType models.FactType, since time.Time) ([]string, error)
	LatestFact(ctx context.Context, resourceRef string, factType models.FactType) (*models.Fact, error)
	ListFacts(ctx context.Context, q FactQuery) ([]models.Fact, error)
}

type IncidentStore interface {
	ListUnresolvedIncidents(ctx context.Context) ([]models.Incident, error)
	// CreateIncidentWithNarrative persists both rows in one transaction.
	CreateIncidentWithNarrative(ctx context.Context, incident *models.Incident, narrative *models.IncidentNarrative) error
	GetIncident(ctx context.Context, id uint) (*models.Incident, error)
	ListIncidents(ctx context.Context, q IncidentQuery) ([]models.Incident, error)
	UpdateIncidentStatus(ctx context.Context, id uint, status models.IncidentStatus, at time.Time) (*models.Incident, error)
}

type LogStore interface {
	// LatestLogTimestamp returns ok=false when nothing is stored for resourceRef.
	LatestLogTimestamp(ctx context.Context, resourceRef string) (ts time.Time, ok bool, err error)
	InsertLogEntries(ctx context.Context, entries []models.LogEntry) error
	ResourcesWithLogs(ctx context.Context) ([]string, error)
	ListLogs(ctx context.Context, q LogQuery) ([]models.LogEntry, error)
	PurgeExpiredLogs(ctx context.Context, resourceRef string, now, coveredUntil time.Time) (int64, error)
}

type SummaryStore interface {
	FindSummary(ctx context.Context, resourceRef string, from, to time.Time) (*models.LogSummaryDocument, error)
	LatestSuccessfulSummary(ctx context.Context, resourceRef string) (*models.LogSummaryDocument, error)
	CreateSummary(ctx context.Context, doc *models.LogSummaryDocument) error
	DeleteSummary(ctx context.Context, id uint) error
	ListSummaries(ctx context.Context, q SummaryQuery) ([]models.LogSummaryDocument, error)
	PurgeExpiredSummaries(ctx context.Context, now time.Time) (int64, error)
}

// Store is the single storage surface shared by every pipeline component.
// Every read goes to the database; there is no cache in front of it.
type Store interface {
	FactStore
	IncidentStore
	LogStore
	SummaryStore
}
