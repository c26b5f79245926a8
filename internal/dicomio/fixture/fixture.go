// Package fixture builds small synthetic DICOM payloads for tests and demos.
package fixture

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	// SecondaryCaptureSOPClass is used for every generated instance
	SecondaryCaptureSOPClass = "1.2.840.10008.5.1.4.1.1.7"
	// ExplicitVRLittleEndian is the transfer syntax of generated payloads
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
)

// Instance describes one generated file. Zero-valued strings are omitted
// from the dataset, which makes it easy to produce files lacking a field.
type Instance struct {
	PatientName       string
	PatientID         string
	PatientBirthDate  string
	PatientAddress    string
	StudyInstanceUID  string
	StudyDate         string
	StudyDescription  string
	StudyID           string
	AccessionNumber   string
	AcquisitionDate   string
	SeriesInstanceUID string
	SeriesDescription string
	Modality          string
	SOPInstanceUID    string
	InstanceNumber    int
	InstitutionName   string
	// PrivateCreator adds a private block in group 0x0009 when set
	PrivateCreator string
	// Pixels adds a Rows x Columns MONOCHROME2 16-bit frame
	Rows, Columns int
}

// Build encodes the instance as Part 10 bytes
func Build(in Instance) ([]byte, error) {
	elements := []*dicom.Element{
		mustNewElement(tag.FileMetaInformationVersion, []byte{0x00, 0x01}),
		mustNewElement(tag.MediaStorageSOPClassUID, []string{SecondaryCaptureSOPClass}),
		mustNewElement(tag.TransferSyntaxUID, []string{ExplicitVRLittleEndian}),
		mustNewElement(tag.SOPClassUID, []string{SecondaryCaptureSOPClass}),
	}
	if in.SOPInstanceUID != "" {
		elements = append(elements,
			mustNewElement(tag.MediaStorageSOPInstanceUID, []string{in.SOPInstanceUID}),
			mustNewElement(tag.SOPInstanceUID, []string{in.SOPInstanceUID}),
		)
	}

	optional := []struct {
		t     tag.Tag
		value string
	}{
		{tag.PatientName, in.PatientName},
		{tag.PatientID, in.PatientID},
		{tag.PatientBirthDate, in.PatientBirthDate},
		{tag.PatientAddress, in.PatientAddress},
		{tag.StudyInstanceUID, in.StudyInstanceUID},
		{tag.StudyDate, in.StudyDate},
		{tag.StudyDescription, in.StudyDescription},
		{tag.StudyID, in.StudyID},
		{tag.AccessionNumber, in.AccessionNumber},
		{tag.AcquisitionDate, in.AcquisitionDate},
		{tag.SeriesInstanceUID, in.SeriesInstanceUID},
		{tag.SeriesDescription, in.SeriesDescription},
		{tag.Modality, in.Modality},
		{tag.InstitutionName, in.InstitutionName},
	}
	for _, o := range optional {
		if o.value != "" {
			elements = append(elements, mustNewElement(o.t, []string{o.value}))
		}
	}
	if in.InstanceNumber > 0 {
		elements = append(elements, mustNewElement(tag.InstanceNumber, []string{strconv.Itoa(in.InstanceNumber)}))
	}
	if in.PrivateCreator != "" {
		elements = append(elements,
			newPrivateElement(tag.Tag{Group: 0x0009, Element: 0x0010}, "LO", []string{in.PrivateCreator}),
			newPrivateElement(tag.Tag{Group: 0x0009, Element: 0x1001}, "LO", []string{"private payload"}),
		)
	}
	if in.Rows > 0 && in.Columns > 0 {
		elements = append(elements, pixelElements(in.Rows, in.Columns)...)
	}

	sort.Slice(elements, func(i, j int) bool {
		if elements[i].Tag.Group != elements[j].Tag.Group {
			return elements[i].Tag.Group < elements[j].Tag.Group
		}
		return elements[i].Tag.Element < elements[j].Tag.Element
	})

	var buf bytes.Buffer
	if err := dicom.Write(&buf, dicom.Dataset{Elements: elements}, dicom.SkipVRVerification(), dicom.SkipValueTypeVerification()); err != nil {
		return nil, fmt.Errorf("failed to write fixture: %w", err)
	}
	return buf.Bytes(), nil
}

// MustBuild is Build for tests
func MustBuild(in Instance) []byte {
	data, err := Build(in)
	if err != nil {
		panic(err)
	}
	return data
}

// Study returns instances for one patient and study laid out as
// seriesCount series of perSeries files each
func Study(patientID, studyUID string, seriesCount, perSeries int) []Instance {
	var out []Instance
	for s := 1; s <= seriesCount; s++ {
		seriesUID := fmt.Sprintf("%s.%d", studyUID, s)
		for i := 1; i <= perSeries; i++ {
			out = append(out, Instance{
				PatientName:       "DOE^JANE",
				PatientID:         patientID,
				PatientBirthDate:  "19800214",
				PatientAddress:    "1 Main Street",
				StudyInstanceUID:  studyUID,
				StudyDate:         "20240315",
				StudyDescription:  "CHEST",
				StudyID:           "S1",
				AccessionNumber:   "ACC001",
				SeriesInstanceUID: seriesUID,
				SeriesDescription: fmt.Sprintf("Series %d", s),
				Modality:          "CT",
				SOPInstanceUID:    fmt.Sprintf("%s.%d", seriesUID, i),
				InstanceNumber:    i,
				InstitutionName:   "General Hospital",
			})
		}
	}
	return out
}

func pixelElements(rows, cols int) []*dicom.Element {
	pixels := rows * cols
	nativeFrame := frame.NewNativeFrame[uint16](16, rows, cols, pixels, 1)
	for i := 0; i < pixels; i++ {
		nativeFrame.RawData[i] = uint16(i % 4096)
	}

	return []*dicom.Element{
		mustNewElement(tag.SamplesPerPixel, []int{1}),
		mustNewElement(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
		mustNewElement(tag.Rows, []int{rows}),
		mustNewElement(tag.Columns, []int{cols}),
		mustNewElement(tag.BitsAllocated, []int{16}),
		mustNewElement(tag.BitsStored, []int{12}),
		mustNewElement(tag.HighBit, []int{11}),
		mustNewElement(tag.PixelRepresentation, []int{0}),
		mustNewElement(tag.PixelData, dicom.PixelDataInfo{
			Frames: []*frame.Frame{
				{
					Encapsulated: false,
					NativeData:   nativeFrame,
				},
			},
		}),
	}
}

func mustNewElement(t tag.Tag, value any) *dicom.Element {
	el, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("failed to create element %v: %v", t, err))
	}
	return el
}

// newPrivateElement builds an element with an explicit VR, which
// dicom.NewElement cannot do for tags missing from the dictionary
func newPrivateElement(t tag.Tag, rawVR string, data any) *dicom.Element {
	value, err := dicom.NewValue(data)
	if err != nil {
		panic(fmt.Sprintf("failed to create value for private element %v: %v", t, err))
	}
	return &dicom.Element{
		Tag:                    t,
		ValueRepresentation:    tag.GetVRKind(t, rawVR),
		RawValueRepresentation: rawVR,
		Value:                  value,
	}
}
