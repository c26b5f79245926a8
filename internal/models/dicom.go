package models

import "strings"

// DicomMetadata holds the attributes extracted from a parsed DICOM file
type DicomMetadata struct {
	PatientName       string `json:"patientName"`
	PatientID         string `json:"patientId"`
	PatientBirthDate  string `json:"patientBirthDate,omitempty"`
	StudyInstanceUID  string `json:"studyInstanceUid"`
	StudyDate         string `json:"studyDate,omitempty"`
	StudyDescription  string `json:"studyDescription,omitempty"`
	StudyID           string `json:"studyId,omitempty"`
	AccessionNumber   string `json:"accessionNumber,omitempty"`
	AcquisitionDate   string `json:"acquisitionDate,omitempty"`
	ContentDate       string `json:"contentDate,omitempty"`
	SeriesInstanceUID string `json:"seriesInstanceUid"`
	SeriesDescription string `json:"seriesDescription,omitempty"`
	Modality          string `json:"modality,omitempty"`
	SOPInstanceUID    string `json:"sopInstanceUid"`
	SOPClassUID       string `json:"sopClassUid,omitempty"`
	InstanceNumber    int    `json:"instanceNumber,omitempty"`
	TransferSyntaxUID string `json:"transferSyntaxUid,omitempty"`
}

// QueryParams represents QIDO-RS query parameters
type QueryParams struct {
	PatientID        string `json:"patient_id,omitempty"`
	PatientName      string `json:"patient_name,omitempty"`
	StudyDate        string `json:"study_date,omitempty"`
	AccessionNumber  string `json:"accession_number,omitempty"`
	StudyInstanceUID string `json:"study_instance_uid,omitempty"`
	Limit            int    `json:"limit,omitempty"`
	Offset           int    `json:"offset,omitempty"`
}

// DicomJSONAttribute is a single attribute of a DICOM JSON model object
type DicomJSONAttribute struct {
	VR    string `json:"vr"`
	Value []any  `json:"Value,omitempty"`
}

// DicomJSON is a DICOM JSON model object keyed by 8-digit hex tag
type DicomJSON map[string]DicomJSONAttribute

// String returns the first value of the attribute as a string
func (d DicomJSON) String(tag string) string {
	attr, ok := d[strings.ToUpper(tag)]
	if !ok || len(attr.Value) == 0 {
		return ""
	}
	if s, ok := attr.Value[0].(string); ok {
		return s
	}
	return ""
}

// StoreFailure describes an instance the server refused in a STOW-RS response
type StoreFailure struct {
	SOPInstanceUID string `json:"sop_instance_uid"`
	Reason         string `json:"reason"`
}
