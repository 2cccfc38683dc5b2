package models

import (
	"time"

	"gorm.io/datatypes"
)

type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARN"
	LogLevelError   LogLevel = "ERROR"
	LogLevelFatal   LogLevel = "FATAL"
)

type LogSource string

const (
	LogSourceStdout LogSource = "stdout"
	LogSourceStderr LogSource = "stderr"
)

// SummaryFailedSentinel marks a summary attempt that must be retried next cycle.
const SummaryFailedSentinel = "Failed to generate summary."

// LogEntry is one ingested log line. Rows are deleted only once RetentionDate
// has passed and a successful summary covers them.
type LogEntry struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	ResourceRef   string    `json:"resourceRef" gorm:"not null;index:idx_log_entries_ref_ts,priority:1"`
	LogSource     LogSource `json:"logSource" gorm:"not null"`
	Content       string    `json:"content" gorm:"type:text"`
	Timestamp     time.Time `json:"timestamp" gorm:"not null;index:idx_log_entries_ref_ts,priority:2"`
	Level         LogLevel  `json:"level"`
	RetentionDate time.Time `json:"retentionDate" gorm:"not null;index"`
	CreatedAt     time.Time `json:"createdAt"`
}

// LogSummaryDocument is the compressed daily knowledge artifact for a resource.
type LogSummaryDocument struct {
	ID            uint                        `json:"id" gorm:"primaryKey"`
	ResourceRef   string                      `json:"resourceRef" gorm:"not null;index:idx_log_summaries_ref_created,priority:1"`
	PeriodStart   time.Time                   `json:"periodStart"`
	PeriodEnd     time.Time                   `json:"periodEnd"`
	Summary       string                      `json:"summary" gorm:"type:text;not null"`
	ErrorPatterns datatypes.JSONSlice[string] `json:"errorPatterns"`
	ArtifactPath  string                      `json:"artifactPath"`
	LineCount     int                         `json:"lineCount"`
	RetentionDate time.Time                   `json:"retentionDate" gorm:"not null;index"`
	CreatedAt     time.Time                   `json:"createdAt" gorm:"index:idx_log_summaries_ref_created,priority:2"`
}

// Failed reports whether this row is the retry sentinel.
func (d *LogSummaryDocument) Failed() bool {
	return d.Summary == SummaryFailedSentinel
}

func (LogEntry) TableName() string {
	return "log_entries"
}

func (LogSummaryDocument) TableName() string {
	return "log_summary_documents"
}
