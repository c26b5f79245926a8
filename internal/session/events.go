package session

import "github.com/otcheredev/ris-dicom-relay/internal/models"

// EventType names a session notification
type EventType string

const (
	EventProgress       EventType = "progress"
	EventSkip           EventType = "skip"
	EventRunFinished    EventType = "run-finished"
	EventStudiesChanged EventType = "studies-changed"
	EventRestore        EventType = "restore"
)

// Event is delivered to Config.OnEvent
type Event struct {
	Type     EventType        `json:"type"`
	Action   string           `json:"action,omitempty"`
	StudyUID string           `json:"studyUid,omitempty"`
	Progress *models.Progress `json:"progress,omitempty"`
	FileName string           `json:"fileName,omitempty"`
	Status   string           `json:"status,omitempty"`
	Message  string           `json:"message,omitempty"`
}

// RunReport is the per-study tally of an anonymize or send call
type RunReport struct {
	StudyUID    string `json:"studyUid"`
	NewStudyUID string `json:"newStudyUid,omitempty"`
	Attempted   int    `json:"attempted"`
	Succeeded   int    `json:"succeeded"`
	Skipped     int    `json:"skipped,omitempty"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}
