// Package dicomio wraps suyashkumar/dicom for metadata extraction and
// policy-driven deidentification of whole DICOM payloads.
package dicomio

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ErrEmptyPayload is returned when parsing zero bytes
var ErrEmptyPayload = errors.New("empty DICOM payload")

// ParseMetadata extracts the attributes the pipeline needs, skipping pixel data
func ParseMetadata(data []byte) (*models.DicomMetadata, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}

	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("failed to parse DICOM: %w", err)
	}
	return metadataFromDataset(&ds), nil
}

// ParseDataset parses the full dataset including pixel data
func ParseDataset(data []byte) (dicom.Dataset, error) {
	if len(data) == 0 {
		return dicom.Dataset{}, ErrEmptyPayload
	}
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		return dicom.Dataset{}, fmt.Errorf("failed to parse DICOM: %w", err)
	}
	return ds, nil
}

func metadataFromDataset(ds *dicom.Dataset) *models.DicomMetadata {
	meta := &models.DicomMetadata{
		PatientName:       StringValue(ds, tag.PatientName),
		PatientID:         StringValue(ds, tag.PatientID),
		PatientBirthDate:  StringValue(ds, tag.PatientBirthDate),
		StudyInstanceUID:  StringValue(ds, tag.StudyInstanceUID),
		StudyDate:         StringValue(ds, tag.StudyDate),
		StudyDescription:  StringValue(ds, tag.StudyDescription),
		StudyID:           StringValue(ds, tag.StudyID),
		AccessionNumber:   StringValue(ds, tag.AccessionNumber),
		AcquisitionDate:   StringValue(ds, tag.AcquisitionDate),
		ContentDate:       StringValue(ds, tag.ContentDate),
		SeriesInstanceUID: StringValue(ds, tag.SeriesInstanceUID),
		SeriesDescription: StringValue(ds, tag.SeriesDescription),
		Modality:          StringValue(ds, tag.Modality),
		SOPInstanceUID:    StringValue(ds, tag.SOPInstanceUID),
		SOPClassUID:       StringValue(ds, tag.SOPClassUID),
		TransferSyntaxUID: StringValue(ds, tag.TransferSyntaxUID),
	}
	if n, err := strconv.Atoi(StringValue(ds, tag.InstanceNumber)); err == nil {
		meta.InstanceNumber = n
	}
	return meta
}

// StringValue returns the first trimmed string value of t, or "" when the
// element is absent or not string-valued
func StringValue(ds *dicom.Dataset, t tag.Tag) string {
	if ds == nil {
		return ""
	}
	el, err := ds.FindElementByTag(t)
	if err != nil || el == nil || el.Value == nil {
		return ""
	}
	return firstString(el)
}

func firstString(el *dicom.Element) string {
	if el.Value == nil || el.Value.ValueType() != dicom.Strings {
		return ""
	}
	vals, ok := el.Value.GetValue().([]string)
	if !ok || len(vals) == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimSpace(vals[0]), "\x00")
}

// ParseTag resolves a keyword ("PatientSex") or a hex tag ("00100040",
// "(0010,0040)", "0010,0040")
func ParseTag(s string) (tag.Tag, error) {
	trimmed := strings.TrimSpace(s)
	hex := strings.NewReplacer("(", "", ")", "", ",", "", " ", "").Replace(trimmed)
	if len(hex) == 8 {
		if v, err := strconv.ParseUint(hex, 16, 32); err == nil {
			return tag.Tag{Group: uint16(v >> 16), Element: uint16(v)}, nil
		}
	}
	info, err := tag.FindByName(trimmed)
	if err != nil {
		return tag.Tag{}, fmt.Errorf("unknown tag %q", s)
	}
	return info.Tag, nil
}

// TagName returns the dictionary keyword for t, or "" for unknown tags
func TagName(t tag.Tag) string {
	info, err := tag.Find(t)
	if err != nil {
		return ""
	}
	return info.Name
}
