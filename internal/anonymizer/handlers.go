package anonymizer

import (
	"math/rand/v2"
	"strings"
	"time"

	"github.com/otcheredev/ris-dicom-relay/internal/dicomio"
	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	dateLayout   = "20060102"
	fallbackDate = "19000101"
)

// substitutionFields maps dictionary keywords to replacement table fields
var substitutionFields = map[string]string{
	"PatientName":       models.FieldPatientName,
	"PatientID":         models.FieldPatientID,
	"StudyID":           models.FieldStudyID,
	"AccessionNumber":   models.FieldAccessionNumber,
	"StudyInstanceUID":  models.FieldStudyInstanceUID,
	"SeriesInstanceUID": models.FieldSeriesInstanceUID,
	"SOPInstanceUID":    models.FieldSOPInstanceUID,
}

// protectedNames are never dropped by removal patterns
var protectedNames = map[string]bool{
	"StudyInstanceUID":  true,
	"SeriesInstanceUID": true,
	"SOPInstanceUID":    true,
	"SOPClassUID":       true,
}

type removalPattern struct {
	op      string
	operand string
}

func parseRemovalPattern(p string) removalPattern {
	trimmed := strings.TrimSpace(p)
	for _, op := range []string{models.PatternStartsWith, models.PatternEndsWith, models.PatternContains} {
		if strings.HasPrefix(trimmed, op) {
			return removalPattern{op: op, operand: strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, op)))}
		}
	}
	return removalPattern{operand: strings.ToLower(trimmed)}
}

func (p removalPattern) matches(name string) bool {
	if name == "" {
		return false
	}
	n := strings.ToLower(name)
	switch p.op {
	case models.PatternStartsWith:
		return strings.HasPrefix(n, p.operand)
	case models.PatternEndsWith:
		return strings.HasSuffix(n, p.operand)
	case models.PatternContains:
		return strings.Contains(n, p.operand)
	default:
		return n == p.operand
	}
}

// run holds everything shared by the files of one AnonymizeStudy call
type run struct {
	policy   models.AnonymizationPolicy
	keep     map[tag.Tag]bool
	removals []removalPattern
	keywords map[string]string
	cache    *IdentifierCache
	token    runToken
	jitter   func(maxDays int) int
}

func newRun(policy models.AnonymizationPolicy, cache *IdentifierCache, token runToken, jitter func(int) int) (*run, error) {
	r := &run{
		policy:   policy,
		keep:     make(map[tag.Tag]bool),
		keywords: make(map[string]string),
		cache:    cache,
		token:    token,
		jitter:   jitter,
	}

	for _, name := range policy.PreserveTags {
		t, err := dicomio.ParseTag(name)
		if err != nil {
			return nil, models.ConfigError("preserve list: %v", err)
		}
		r.keep[t] = true
	}
	for _, p := range policy.TagsToRemove {
		r.removals = append(r.removals, parseRemovalPattern(p))
	}

	fields := make(map[string]bool, len(substitutionFields))
	for _, f := range substitutionFields {
		fields[f] = true
	}
	for key, template := range policy.Replacements {
		if !fields[key] {
			r.keywords[key] = template
		}
	}
	return r, nil
}

// profile builds the deidentification profile for one file
func (r *run) profile(meta *models.DicomMetadata) dicomio.Profile {
	handlers := []dicomio.ElementHandler{}
	if r.policy.UseCustomHandlers && len(r.removals) > 0 {
		handlers = append(handlers, r.removeMatching)
	}
	handlers = append(handlers, r.substitute(meta), r.replaceKeywords)
	if r.policy.UseCustomHandlers && r.policy.DateJitterDays > 0 {
		// one offset per file keeps its dates in order
		handlers = append(handlers, r.jitterDates(r.jitter(r.policy.DateJitterDays)))
	}

	return dicomio.Profile{
		Level:             r.policy.Profile,
		RemovePrivateTags: r.policy.RemovePrivateTags,
		Keep:              r.keep,
		DummyValue:        dummyValues(meta),
		Handlers:          handlers,
	}
}

func (r *run) removeMatching(name string, el *dicom.Element) (dicomio.Action, error) {
	if protectedNames[name] {
		return dicomio.Continue, nil
	}
	for _, p := range r.removals {
		if p.matches(name) {
			return dicomio.Drop, nil
		}
	}
	return dicomio.Continue, nil
}

func (r *run) substitute(meta *models.DicomMetadata) dicomio.ElementHandler {
	return func(name string, el *dicom.Element) (dicomio.Action, error) {
		field, ok := substitutionFields[name]
		if !ok {
			return dicomio.Continue, nil
		}
		value, err := r.replacementFor(field, dicomio.ElementString(el), meta)
		if err != nil {
			return dicomio.Continue, err
		}
		return dicomio.Handled, dicomio.SetString(el, value)
	}
}

func (r *run) replaceKeywords(name string, el *dicom.Element) (dicomio.Action, error) {
	template, ok := r.keywords[name]
	if !ok {
		return dicomio.Continue, nil
	}
	return dicomio.Handled, dicomio.SetString(el, r.token.resolve(template))
}

// replacementFor resolves one identifier. Seeded mappings win over the
// replacement table, which wins over generated values.
func (r *run) replacementFor(field, original string, meta *models.DicomMetadata) (string, error) {
	switch field {
	case models.FieldPatientName:
		if template, ok := r.policy.Replacements[field]; ok {
			return r.token.resolve(template), nil
		}
		return models.DefaultAnonymizedName, nil
	case models.FieldStudyInstanceUID, models.FieldSeriesInstanceUID, models.FieldSOPInstanceUID:
		return r.cache.GetOrCreate(field, original, dicomio.NewUID)
	}

	key := original
	if field == models.FieldAccessionNumber && strings.TrimSpace(original) == "" && meta != nil {
		key = "study:" + meta.StudyInstanceUID
	}
	if v, ok := r.cache.Lookup(field, key); ok {
		return v, nil
	}
	if template, ok := r.policy.Replacements[field]; ok {
		return r.token.resolve(template), nil
	}
	return r.cache.GetOrCreate(field, key, generatorFor(field))
}

func generatorFor(field string) Generator {
	switch field {
	case models.FieldPatientID:
		return func() string { return "ANON-" + randomString(8) }
	case models.FieldAccessionNumber:
		return func() string { return "ACC" + randomDigits(10) }
	default:
		return func() string { return randomDigits(8) }
	}
}

func (r *run) jitterDates(days int) dicomio.ElementHandler {
	return func(name string, el *dicom.Element) (dicomio.Action, error) {
		if !strings.HasSuffix(name, "Date") || el.RawValueRepresentation != "DA" {
			return dicomio.Continue, nil
		}
		shifted, ok := shiftDate(dicomio.ElementString(el), days)
		if !ok {
			return dicomio.Continue, nil
		}
		return dicomio.Handled, dicomio.SetString(el, shifted)
	}
}

// shiftDate moves an 8-digit DA value by days; malformed values are rejected
func shiftDate(value string, days int) (string, bool) {
	if len(value) != 8 {
		return "", false
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return "", false
	}
	return t.AddDate(0, 0, days).Format(dateLayout), true
}

// randomOffset draws from [-maxDays, maxDays] excluding zero
func randomOffset(maxDays int) int {
	if maxDays <= 0 {
		return 0
	}
	offset := rand.IntN(2*maxDays+1) - maxDays
	if offset == 0 {
		if rand.IntN(2) == 0 {
			return 1
		}
		return -1
	}
	return offset
}

// referenceDate picks the first valid date of birth, study, acquisition and
// content dates, falling back to 19000101
func referenceDate(meta *models.DicomMetadata) string {
	if meta == nil {
		return fallbackDate
	}
	for _, d := range []string{meta.PatientBirthDate, meta.StudyDate, meta.AcquisitionDate, meta.ContentDate} {
		if _, ok := shiftDate(d, 0); ok {
			return d
		}
	}
	return fallbackDate
}

func dummyValues(meta *models.DicomMetadata) func(tag.Tag) (string, bool) {
	ref := referenceDate(meta)
	return func(t tag.Tag) (string, bool) {
		switch t {
		case tag.PatientBirthDate:
			// keep only the year of the reference date
			return ref[:4] + "0101", true
		case tag.StudyTime:
			return "000000", true
		case tag.PatientName:
			return models.DefaultAnonymizedName, true
		}
		return "", false
	}
}
