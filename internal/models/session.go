package models

// FileRecord is one physical DICOM-bearing file. Bytes live in the
// BinaryStore under BinaryRef and are never kept on the record.
type FileRecord struct {
	ID            string         `json:"id"`
	FileName      string         `json:"fileName"`
	FileSizeBytes int64          `json:"fileSize"`
	Metadata      *DicomMetadata `json:"metadata,omitempty"`
	Anonymized    bool           `json:"anonymized"`
	Sent          bool           `json:"sent"`
	BinaryRef     string         `json:"binaryRef"`
}

// StudyUID returns the study key of the file, or "" when it has no metadata
func (f FileRecord) StudyUID() string {
	if f.Metadata == nil {
		return ""
	}
	return f.Metadata.StudyInstanceUID
}

// SeriesNode groups the files of one series in insertion order
type SeriesNode struct {
	SeriesInstanceUID string       `json:"seriesInstanceUid"`
	SeriesDescription string       `json:"seriesDescription"`
	Modality          string       `json:"modality"`
	Files             []FileRecord `json:"files"`
}

// StudyNode groups the series of one study
type StudyNode struct {
	StudyInstanceUID  string            `json:"studyInstanceUid"`
	PatientName       string            `json:"patientName"`
	PatientID         string            `json:"patientId"`
	StudyDate         string            `json:"studyDate"`
	StudyDescription  string            `json:"studyDescription"`
	Series            []SeriesNode      `json:"series"`
	AssignedPatientID string            `json:"assignedPatientId,omitempty"`
	CustomFields      map[string]string `json:"customFields,omitempty"`
}

// FileCount returns the number of files across all series
func (s StudyNode) FileCount() int {
	n := 0
	for _, series := range s.Series {
		n += len(series.Files)
	}
	return n
}

// StudySummary is the persisted projection of a StudyNode
type StudySummary struct {
	StudyInstanceUID  string            `json:"studyInstanceUid"`
	AssignedPatientID string            `json:"assignedPatientId,omitempty"`
	CustomFields      map[string]string `json:"customFields,omitempty"`
}

// PersistedSession is the durable projection of the in-memory session
type PersistedSession struct {
	Files   []FileRecord   `json:"files"`
	Studies []StudySummary `json:"studies"`
}

// Empty reports whether there is nothing to restore
func (p *PersistedSession) Empty() bool {
	return p == nil || len(p.Files) == 0
}
