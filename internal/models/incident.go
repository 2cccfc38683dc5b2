package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type IncidentStatus string
type IncidentSeverity string

const (
	StatusOpen          IncidentStatus = "open"
	StatusInvestigating IncidentStatus = "investigating"
	StatusMitigated     IncidentStatus = "mitigated"
	StatusResolved      IncidentStatus = "resolved"
)

const (
	SeverityLow      IncidentSeverity = "low"
	SeverityMedium   IncidentSeverity = "medium"
	SeverityHigh     IncidentSeverity = "high"
	SeverityCritical IncidentSeverity = "critical"
)

// ValidStatus reports whether s is one of the incident lifecycle states.
func ValidStatus(s IncidentStatus) bool {
	switch s {
	case StatusOpen, StatusInvestigating, StatusMitigated, StatusResolved:
		return true
	}
	return false
}

var ErrNoAffectedResources = errors.New("incident must reference at least one resource")

type Incident struct {
	ID                uint                        `json:"id" gorm:"primaryKey"`
	Title             string                      `json:"title" gorm:"not null"`
	Severity          IncidentSeverity            `json:"severity" gorm:"not null"`
	Status            IncidentStatus              `json:"status" gorm:"not null;default:'open';index"`
	AffectedResources datatypes.JSONSlice[string] `json:"affectedResources" gorm:"not null"`
	Symptoms          datatypes.JSONSlice[string] `json:"symptoms"`
	RuleName          string                      `json:"ruleName"`
	DetectedAt        time.Time                   `json:"detectedAt" gorm:"not null;index"`
	ResolvedAt        *time.Time                  `json:"resolvedAt"`
	CreatedAt         time.Time                   `json:"createdAt"`
	UpdatedAt         time.Time                   `json:"updatedAt"`

	Narrative *IncidentNarrative `json:"narrative,omitempty" gorm:"foreignKey:IncidentID"`
}

func (Incident) TableName() string {
	return "incidents"
}

func (i *Incident) BeforeCreate(tx *gorm.DB) error {
	if len(i.AffectedResources) == 0 {
		return ErrNoAffectedResources
	}
	return nil
}

// References reports whether resourceRef is among the affected resources.
func (i *Incident) References(resourceRef string) bool {
	for _, ref := range i.AffectedResources {
		if ref == resourceRef {
			return true
		}
	}
	return false
}

type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IncidentNarrative is created in the same transaction as its Incident and is
// only ever updated afterwards, never deleted on its own.
type IncidentNarrative struct {
	ID                  uint                        `json:"id" gorm:"primaryKey"`
	IncidentID          uint                        `json:"incidentId" gorm:"not null;uniqueIndex"`
	NarrativeText       string                      `json:"narrativeText" gorm:"type:text;not null"`
	RootCauseHypothesis string                      `json:"rootCauseHypothesis" gorm:"type:text"`
	Confidence          *float64                    `json:"confidence,omitempty"`
	EvidenceRefs        datatypes.JSONSlice[string] `json:"evidenceRefs"`
	ResolutionSteps     datatypes.JSONSlice[string] `json:"resolutionSteps"`
	TimeRange           TimeRange                   `json:"timeRange" gorm:"embedded;embeddedPrefix:time_range_"`
	AIGenerated         bool                        `json:"aiGenerated"`
	CreatedAt           time.Time                   `json:"createdAt"`
	UpdatedAt           time.Time                   `json:"updatedAt"`
}

func (IncidentNarrative) TableName() string {
	return "incident_narratives"
}
