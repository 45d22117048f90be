package reports

import (
	"time"
)

// ReportID tipe untuk Report
type ReportID int64

// Status enum
type Status string

const (
	// StatusPending: row reserved, analysis/rendering not finished yet
	StatusPending Status = "pending"
	// StatusReady: summary stored and artifact fully flushed to disk
	StatusReady Status = "ready"
	// StatusFailed: analysis or rendering failed after the reservation committed
	StatusFailed Status = "failed"
)

// Aggregate Root: Report
//
// A report row is reserved before any slow work starts and is never rolled
// back once committed. Summary stays empty until the analysis succeeded;
// Path points at the artifact reserved for this request and is never
// re-derived afterwards. It stays server-side; clients get a download URL.
type Report struct {
	ID        ReportID  `json:"id"`
	SubjectID int64     `json:"user_id"`
	Name      string    `json:"report_name"`
	Path      string    `json:"-"`
	Summary   string    `json:"report_summary,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
