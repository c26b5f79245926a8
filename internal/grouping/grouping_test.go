package grouping

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"

	"github.com/otcheredev/ris-dicom-relay/internal/models"
)

func file(id, study, series string) models.FileRecord {
	f := models.FileRecord{ID: id, FileName: id + ".dcm", BinaryRef: id}
	if study != "" || series != "" {
		f.Metadata = &models.DicomMetadata{
			PatientID:         "P-" + study,
			PatientName:       "NAME^" + id,
			StudyInstanceUID:  study,
			SeriesInstanceUID: series,
			SOPInstanceUID:    id,
			StudyDate:         "2024010" + id[len(id)-1:],
		}
	}
	return f
}

func TestGroupSingleStudyThreeSeries(t *testing.T) {
	var files []models.FileRecord
	for s := 1; s <= 3; s++ {
		for i := 1; i <= 2; i++ {
			files = append(files, file(fmt.Sprintf("f%d%d", s, i), "1.2.3", fmt.Sprintf("1.2.3.%d", s)))
		}
	}

	studies := Group(files)
	if len(studies) != 1 {
		t.Fatalf("len(studies) = %d, want 1", len(studies))
	}
	if len(studies[0].Series) != 3 {
		t.Fatalf("len(series) = %d, want 3", len(studies[0].Series))
	}
	for _, series := range studies[0].Series {
		if len(series.Files) != 2 {
			t.Errorf("series %s has %d files, want 2", series.SeriesInstanceUID, len(series.Files))
		}
	}
	if studies[0].FileCount() != 6 {
		t.Errorf("FileCount() = %d, want 6", studies[0].FileCount())
	}
}

func TestGroupFirstFileWins(t *testing.T) {
	a := file("a1", "S", "R")
	b := file("b2", "S", "R")
	b.Metadata.PatientName = "OTHER"

	studies := Group([]models.FileRecord{a, b})
	if studies[0].PatientName != a.Metadata.PatientName {
		t.Errorf("PatientName = %q, want first file's %q", studies[0].PatientName, a.Metadata.PatientName)
	}
	if studies[0].StudyDate != a.Metadata.StudyDate {
		t.Errorf("StudyDate = %q, want %q", studies[0].StudyDate, a.Metadata.StudyDate)
	}
}

func TestGroupSkipsOrphans(t *testing.T) {
	files := []models.FileRecord{
		file("x1", "", ""),
		file("x2", "S", ""),
		file("x3", "", "R"),
		file("ok", "S", "R"),
	}

	studies := Group(files)
	flat := Flatten(studies)
	if len(flat) != 1 || flat[0].ID != "ok" {
		t.Errorf("Flatten(Group()) = %v, want only ok", flat)
	}
}

func TestGroupInsertionOrder(t *testing.T) {
	files := []models.FileRecord{
		file("a1", "S2", "R1"),
		file("b1", "S1", "R1"),
		file("c1", "S2", "R2"),
		file("d1", "S2", "R1"),
	}

	studies := Group(files)
	if studies[0].StudyInstanceUID != "S2" || studies[1].StudyInstanceUID != "S1" {
		t.Errorf("study order = %s,%s; want S2,S1", studies[0].StudyInstanceUID, studies[1].StudyInstanceUID)
	}
	r1 := studies[0].Series[0].Files
	if len(r1) != 2 || r1[0].ID != "a1" || r1[1].ID != "d1" {
		t.Errorf("series R1 files = %v, want a1,d1", r1)
	}
}

func randomFiles(rng *rand.Rand, n int) []models.FileRecord {
	files := make([]models.FileRecord, n)
	for i := range files {
		study := fmt.Sprintf("S%d", rng.Intn(4))
		series := fmt.Sprintf("R%d", rng.Intn(3))
		switch rng.Intn(10) {
		case 0:
			study = ""
		case 1:
			series = ""
		}
		files[i] = file(fmt.Sprintf("f%d", i), study, series)
	}
	return files
}

func TestGroupIdempotence(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		files := randomFiles(rng, rng.Intn(40))

		first := Group(files)
		second := Group(Flatten(first))
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("trial %d: Group(Flatten(Group(x))) != Group(x)", trial)
		}
	}
}

func TestGroupKeepsEveryFile(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	files := randomFiles(rng, 200)

	for _, study := range Group(files) {
		for _, series := range study.Series {
			for _, f := range series.Files {
				if f.Metadata == nil {
					t.Fatalf("file %s without metadata in tree", f.ID)
				}
				if f.Metadata.StudyInstanceUID != study.StudyInstanceUID {
					t.Errorf("file %s study %s under %s", f.ID, f.Metadata.StudyInstanceUID, study.StudyInstanceUID)
				}
				if f.Metadata.SeriesInstanceUID != series.SeriesInstanceUID {
					t.Errorf("file %s series %s under %s", f.ID, f.Metadata.SeriesInstanceUID, series.SeriesInstanceUID)
				}
			}
		}
	}
}

func TestFind(t *testing.T) {
	studies := Group([]models.FileRecord{file("a1", "S1", "R"), file("b1", "S2", "R")})
	if s, ok := Find(studies, "S2"); !ok || s.StudyInstanceUID != "S2" {
		t.Errorf("Find(S2) = %v, %v", s.StudyInstanceUID, ok)
	}
	if _, ok := Find(studies, "nope"); ok {
		t.Error("Find(nope) should miss")
	}
}
