package dicomio

import (
	"errors"
	"strings"
	"testing"

	"github.com/otcheredev/ris-dicom-relay/internal/dicomio/fixture"
	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func sampleInstance() fixture.Instance {
	return fixture.Study("PID-1", "1.2.3.4", 1, 1)[0]
}

func TestParseMetadata(t *testing.T) {
	data := fixture.MustBuild(sampleInstance())

	meta, err := ParseMetadata(data)
	if err != nil {
		t.Fatalf("ParseMetadata() error = %v", err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"PatientName", meta.PatientName, "DOE^JANE"},
		{"PatientID", meta.PatientID, "PID-1"},
		{"StudyInstanceUID", meta.StudyInstanceUID, "1.2.3.4"},
		{"SeriesInstanceUID", meta.SeriesInstanceUID, "1.2.3.4.1"},
		{"SOPInstanceUID", meta.SOPInstanceUID, "1.2.3.4.1.1"},
		{"StudyDate", meta.StudyDate, "20240315"},
		{"Modality", meta.Modality, "CT"},
		{"AccessionNumber", meta.AccessionNumber, "ACC001"},
		{"TransferSyntaxUID", meta.TransferSyntaxUID, fixture.ExplicitVRLittleEndian},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
	if meta.InstanceNumber != 1 {
		t.Errorf("InstanceNumber = %d, want 1", meta.InstanceNumber)
	}
}

func TestParseMetadataRejectsGarbage(t *testing.T) {
	if _, err := ParseMetadata(nil); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("ParseMetadata(nil) error = %v, want ErrEmptyPayload", err)
	}
	if _, err := ParseMetadata([]byte("definitely not dicom")); err == nil {
		t.Error("ParseMetadata() expected error for garbage input")
	}
}

func TestDeidentifyBasicProfile(t *testing.T) {
	in := sampleInstance()
	in.PrivateCreator = "ACME"
	data := fixture.MustBuild(in)

	out, err := NewDeidentifier().Deidentify(data, Profile{
		Level:             models.ProfileBasic,
		RemovePrivateTags: true,
		DummyValue: func(t tag.Tag) (string, bool) {
			if t == tag.PatientName {
				return "ANONYMIZED", true
			}
			return "", false
		},
	})
	if err != nil {
		t.Fatalf("Deidentify() error = %v", err)
	}

	ds, err := ParseDataset(out)
	if err != nil {
		t.Fatalf("output not re-parseable: %v", err)
	}

	if got := StringValue(&ds, tag.PatientName); got != "ANONYMIZED" {
		t.Errorf("PatientName = %q, want ANONYMIZED", got)
	}
	if _, err := ds.FindElementByTag(tag.PatientAddress); err == nil {
		t.Error("PatientAddress should be removed")
	}
	if _, err := ds.FindElementByTag(tag.InstitutionName); err == nil {
		t.Error("InstitutionName should be removed")
	}
	for _, el := range ds.Elements {
		if el.Tag.Group%2 == 1 {
			t.Errorf("private tag %v survived", el.Tag)
		}
	}

	sop := StringValue(&ds, tag.SOPInstanceUID)
	if sop == in.SOPInstanceUID || !strings.HasPrefix(sop, UIDRoot) {
		t.Errorf("SOPInstanceUID = %q, want new %s UID", sop, UIDRoot)
	}
	if media := StringValue(&ds, tag.MediaStorageSOPInstanceUID); media != sop {
		t.Errorf("MediaStorageSOPInstanceUID = %q, want %q", media, sop)
	}
	if got := StringValue(&ds, tag.StudyDescription); got != "CHEST" {
		t.Errorf("basic profile should keep StudyDescription, got %q", got)
	}
}

func TestDeidentifyProfilesAreCumulative(t *testing.T) {
	data := fixture.MustBuild(sampleInstance())

	for _, level := range []models.ProfileLevel{models.ProfileClean, models.ProfileVeryClean} {
		t.Run(string(level), func(t *testing.T) {
			out, err := NewDeidentifier().Deidentify(data, Profile{Level: level})
			if err != nil {
				t.Fatalf("Deidentify() error = %v", err)
			}
			ds, err := ParseDataset(out)
			if err != nil {
				t.Fatalf("ParseDataset() error = %v", err)
			}
			if got := StringValue(&ds, tag.StudyDescription); got != "" {
				t.Errorf("StudyDescription = %q, want emptied", got)
			}
			if _, err := ds.FindElementByTag(tag.PatientAddress); err == nil {
				t.Error("basic-level PatientAddress should be removed")
			}
		})
	}
}

func TestDeidentifyKeepAndHandlers(t *testing.T) {
	in := sampleInstance()
	data := fixture.MustBuild(in)

	var seen []string
	out, err := NewDeidentifier().Deidentify(data, Profile{
		Level: models.ProfileBasic,
		Keep:  map[tag.Tag]bool{tag.PatientID: true},
		Handlers: []ElementHandler{
			func(name string, el *dicom.Element) (Action, error) {
				seen = append(seen, name)
				switch name {
				case "AccessionNumber":
					return Handled, SetString(el, "ACC-X")
				case "Modality":
					return Drop, nil
				}
				return Continue, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("Deidentify() error = %v", err)
	}

	ds, err := ParseDataset(out)
	if err != nil {
		t.Fatalf("ParseDataset() error = %v", err)
	}
	if got := StringValue(&ds, tag.PatientID); got != "PID-1" {
		t.Errorf("kept PatientID = %q, want PID-1", got)
	}
	if got := StringValue(&ds, tag.AccessionNumber); got != "ACC-X" {
		t.Errorf("AccessionNumber = %q, want ACC-X", got)
	}
	if _, err := ds.FindElementByTag(tag.Modality); err == nil {
		t.Error("Modality should be dropped by handler")
	}
	for _, name := range seen {
		if name == "PatientID" {
			t.Error("handlers must not see kept tags")
		}
	}
}

func TestDeidentifyHandlerError(t *testing.T) {
	data := fixture.MustBuild(sampleInstance())
	boom := errors.New("boom")

	_, err := NewDeidentifier().Deidentify(data, Profile{
		Level: models.ProfileBasic,
		Handlers: []ElementHandler{
			func(name string, el *dicom.Element) (Action, error) {
				if name == "StudyDate" {
					return Continue, boom
				}
				return Continue, nil
			},
		},
	})
	if !errors.Is(err, boom) {
		t.Errorf("Deidentify() error = %v, want wrapped boom", err)
	}
}

func TestDeidentifySizeStaysBounded(t *testing.T) {
	in := sampleInstance()
	in.Rows, in.Columns = 32, 32
	data := fixture.MustBuild(in)

	out, err := NewDeidentifier().Deidentify(data, Profile{Level: models.ProfileBasic, RemovePrivateTags: true})
	if err != nil {
		t.Fatalf("Deidentify() error = %v", err)
	}
	if _, err := ParseMetadata(out); err != nil {
		t.Fatalf("output not re-parseable: %v", err)
	}

	ratio := float64(len(out)) / float64(len(data))
	if ratio < 0.9 || ratio > 1.1 {
		t.Errorf("size ratio = %.3f (in %d, out %d), want within 10%%", ratio, len(data), len(out))
	}
}

func TestNewUID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		uid := NewUID()
		if !strings.HasPrefix(uid, UIDRoot) {
			t.Fatalf("NewUID() = %q, missing root", uid)
		}
		if len(uid) > 64 {
			t.Fatalf("NewUID() = %q longer than 64 chars", uid)
		}
		if seen[uid] {
			t.Fatalf("NewUID() repeated %q", uid)
		}
		seen[uid] = true
	}
}

func TestParseTag(t *testing.T) {
	tests := []struct {
		in      string
		want    tag.Tag
		wantErr bool
	}{
		{in: "PatientSex", want: tag.PatientSex},
		{in: "00100040", want: tag.PatientSex},
		{in: "(0010,0040)", want: tag.PatientSex},
		{in: "0010,0040", want: tag.PatientSex},
		{in: "(0009,1001)", want: tag.Tag{Group: 0x0009, Element: 0x1001}},
		{in: "NotARealKeyword", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTag(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTag(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseTag(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
