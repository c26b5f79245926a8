// Package grouping builds the study/series tree from a flat file list.
package grouping

import "github.com/otcheredev/ris-dicom-relay/internal/models"

// Group builds studies in first-seen order. The first file of a study
// supplies its patient, date and description fields. Files without a study
// or series UID are left out of the tree.
func Group(files []models.FileRecord) []models.StudyNode {
	var studies []models.StudyNode
	studyIndex := make(map[string]int)
	seriesIndex := make(map[string]map[string]int)

	for _, f := range files {
		meta := f.Metadata
		if meta == nil || meta.StudyInstanceUID == "" || meta.SeriesInstanceUID == "" {
			continue
		}

		si, ok := studyIndex[meta.StudyInstanceUID]
		if !ok {
			si = len(studies)
			studyIndex[meta.StudyInstanceUID] = si
			seriesIndex[meta.StudyInstanceUID] = make(map[string]int)
			studies = append(studies, models.StudyNode{
				StudyInstanceUID: meta.StudyInstanceUID,
				PatientName:      meta.PatientName,
				PatientID:        meta.PatientID,
				StudyDate:        meta.StudyDate,
				StudyDescription: meta.StudyDescription,
			})
		}
		study := &studies[si]

		series := seriesIndex[meta.StudyInstanceUID]
		ri, ok := series[meta.SeriesInstanceUID]
		if !ok {
			ri = len(study.Series)
			series[meta.SeriesInstanceUID] = ri
			study.Series = append(study.Series, models.SeriesNode{
				SeriesInstanceUID: meta.SeriesInstanceUID,
				SeriesDescription: meta.SeriesDescription,
				Modality:          meta.Modality,
			})
		}
		study.Series[ri].Files = append(study.Series[ri].Files, f)
	}

	return studies
}

// Flatten concatenates every series' files back into one list
func Flatten(studies []models.StudyNode) []models.FileRecord {
	var files []models.FileRecord
	for _, study := range studies {
		files = append(files, StudyFiles(study)...)
	}
	return files
}

// StudyFiles returns the study's files across all series in tree order
func StudyFiles(study models.StudyNode) []models.FileRecord {
	files := make([]models.FileRecord, 0, study.FileCount())
	for _, series := range study.Series {
		files = append(files, series.Files...)
	}
	return files
}

// Find returns the study with the given UID
func Find(studies []models.StudyNode, uid string) (models.StudyNode, bool) {
	for _, study := range studies {
		if study.StudyInstanceUID == uid {
			return study, true
		}
	}
	return models.StudyNode{}, false
}
