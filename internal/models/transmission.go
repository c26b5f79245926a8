package models

import "math"

// Progress is emitted by the anonymizer and transmitter on every per-file change
type Progress struct {
	StudyUID    string `json:"studyUid,omitempty"`
	Total       int    `json:"total"`
	Completed   int    `json:"completed"`
	Percentage  int    `json:"percentage"`
	CurrentFile string `json:"currentFile,omitempty"`
}

// Percent returns round(completed/total*100), 0 for an empty batch
func Percent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

// FailureMode selects how a batch reacts to one file's failure
type FailureMode string

const (
	// CollectAndContinue isolates failures and reports a tally at the end
	CollectAndContinue FailureMode = "collect"
	// FailFast stops dispatching new files after the first failure
	FailFast FailureMode = "fail-fast"
)

// TransmissionStatus is the lifecycle of a study send
type TransmissionStatus string

const (
	TransmissionIdle      TransmissionStatus = "idle"
	TransmissionSending   TransmissionStatus = "sending"
	TransmissionCompleted TransmissionStatus = "completed"
	TransmissionFailed    TransmissionStatus = "failed"
	TransmissionCancelled TransmissionStatus = "cancelled"
)

// Terminal reports whether no further updates will follow
func (s TransmissionStatus) Terminal() bool {
	return s == TransmissionCompleted || s == TransmissionFailed || s == TransmissionCancelled
}

// TransmissionState tracks one study send for polling
type TransmissionState struct {
	StudyUID    string             `json:"studyUid"`
	Total       int                `json:"total"`
	Completed   int                `json:"completed"`
	Failed      int                `json:"failed"`
	Skipped     int                `json:"skipped"`
	// Percentage is Completed over the sendable files, Total minus Skipped
	Percentage int                `json:"percentage"`
	CurrentFile string             `json:"currentFile,omitempty"`
	Status      TransmissionStatus `json:"status"`
	LastError   string             `json:"lastError,omitempty"`
}
