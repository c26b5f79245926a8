package models

import (
	"strings"
)

// ProfileLevel selects how aggressively attributes are removed
type ProfileLevel string

const (
	ProfileBasic     ProfileLevel = "basic"
	ProfileClean     ProfileLevel = "clean"
	ProfileVeryClean ProfileLevel = "very-clean"
)

const (
	MaxDateJitterDays     = 365
	DefaultAnonymizedName = "ANONYMIZED"

	PatternStartsWith = "startswith:"
	PatternEndsWith   = "endswith:"
	PatternContains   = "contains:"
)

// Replacement table fields with deterministic substitution
const (
	FieldPatientName       = "patientName"
	FieldPatientID         = "patientId"
	FieldStudyID           = "studyId"
	FieldAccessionNumber   = "accessionNumber"
	FieldStudyInstanceUID  = "studyInstanceUid"
	FieldSeriesInstanceUID = "seriesInstanceUid"
	FieldSOPInstanceUID    = "sopInstanceUid"
)

// AnonymizationPolicy is immutable for the duration of one run
type AnonymizationPolicy struct {
	Profile           ProfileLevel      `json:"profile"`
	RemovePrivateTags bool              `json:"removePrivateTags"`
	UseCustomHandlers bool              `json:"useCustomHandlers"`
	DateJitterDays    int               `json:"dateJitterDays"`
	PreserveTags      []string          `json:"preserveTags,omitempty"`
	TagsToRemove      []string          `json:"tagsToRemove,omitempty"`
	Replacements      map[string]string `json:"replacements,omitempty"`
}

// DefaultPolicy returns the policy used when none has been configured
func DefaultPolicy() AnonymizationPolicy {
	return AnonymizationPolicy{
		Profile:           ProfileBasic,
		RemovePrivateTags: true,
		UseCustomHandlers: true,
		DateJitterDays:    30,
		TagsToRemove:      []string{"contains:Address", "contains:Telephone"},
		Replacements: map[string]string{
			FieldPatientName: DefaultAnonymizedName,
		},
	}
}

// Validate checks every field range. It never inspects files.
func (p AnonymizationPolicy) Validate() error {
	switch p.Profile {
	case ProfileBasic, ProfileClean, ProfileVeryClean:
	case "":
		return ConfigError("profile is required")
	default:
		return ConfigError("unknown profile %q", p.Profile)
	}

	if p.DateJitterDays < 0 || p.DateJitterDays > MaxDateJitterDays {
		return ConfigError("date jitter %d outside [0,%d]", p.DateJitterDays, MaxDateJitterDays)
	}

	for _, pattern := range p.TagsToRemove {
		if err := ValidateRemovalPattern(pattern); err != nil {
			return err
		}
	}

	for _, t := range p.PreserveTags {
		if strings.TrimSpace(t) == "" {
			return ConfigError("empty tag in preserve list")
		}
	}

	for field, value := range p.Replacements {
		if field == "" {
			return ConfigError("replacement with empty field name")
		}
		if strings.Count(value, "{") != strings.Count(value, "}") {
			return ConfigError("unbalanced template in replacement for %s", field)
		}
	}

	return nil
}

// ValidateRemovalPattern checks a literal or prefixed tag-name pattern
func ValidateRemovalPattern(pattern string) error {
	trimmed := strings.TrimSpace(pattern)
	if trimmed == "" {
		return ConfigError("empty tag removal pattern")
	}
	for _, prefix := range []string{PatternStartsWith, PatternEndsWith, PatternContains} {
		if strings.HasPrefix(trimmed, prefix) {
			if strings.TrimSpace(strings.TrimPrefix(trimmed, prefix)) == "" {
				return ConfigError("tag removal pattern %q has no operand", pattern)
			}
			return nil
		}
	}
	if strings.Contains(trimmed, ":") {
		return ConfigError("tag removal pattern %q has unknown operator", pattern)
	}
	return nil
}
