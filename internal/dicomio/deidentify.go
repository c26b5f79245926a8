package dicomio

import (
	"bytes"
	"fmt"

	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const metaGroup = 0x0002

// Action is the outcome of an ElementHandler
type Action int

const (
	// Continue passes the element on to the next handler and then the profile
	Continue Action = iota
	// Handled keeps the element as the handler left it
	Handled
	// Drop removes the element from the output
	Drop
)

// ElementHandler inspects one top-level element. name is the dictionary
// keyword of the tag, empty for private or unknown tags.
type ElementHandler func(name string, el *dicom.Element) (Action, error)

// Profile is the policy object handed to a Deidentifier
type Profile struct {
	Level             models.ProfileLevel
	RemovePrivateTags bool
	// Keep lists tags copied verbatim, bypassing handlers and the profile
	Keep map[tag.Tag]bool
	// DummyValue supplies replacement text for profile-emptied tags
	DummyValue func(t tag.Tag) (string, bool)
	// Handlers run in order before the profile is applied
	Handlers []ElementHandler
}

// Deidentifier rewrites a DICOM payload according to a Profile
type Deidentifier interface {
	Deidentify(data []byte, profile Profile) ([]byte, error)
}

// DatasetDeidentifier implements Deidentifier on suyashkumar/dicom datasets
type DatasetDeidentifier struct{}

// NewDeidentifier creates a new dataset deidentifier
func NewDeidentifier() *DatasetDeidentifier {
	return &DatasetDeidentifier{}
}

// Deidentify parses data, applies the profile and returns the re-encoded bytes
func (d *DatasetDeidentifier) Deidentify(data []byte, profile Profile) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("deidentification panicked: %v", r)
		}
	}()

	ds, err := ParseDataset(data)
	if err != nil {
		return nil, err
	}

	actions := profileActions(profile.Level)
	kept := make([]*dicom.Element, 0, len(ds.Elements))

	for _, el := range ds.Elements {
		if el.Tag.Group == metaGroup || el.Tag == tag.PixelData || profile.Keep[el.Tag] {
			kept = append(kept, el)
			continue
		}
		if profile.RemovePrivateTags && el.Tag.Group%2 == 1 {
			continue
		}

		name := TagName(el.Tag)
		action, err := runHandlers(profile.Handlers, name, el)
		if err != nil {
			return nil, fmt.Errorf("handler failed on %s %s: %w", el.Tag.String(), name, err)
		}
		switch action {
		case Drop:
			continue
		case Handled:
			kept = append(kept, el)
			continue
		}

		switch actions[el.Tag] {
		case actionRemove:
			continue
		case actionDummy:
			value := ""
			if profile.DummyValue != nil {
				if v, ok := profile.DummyValue(el.Tag); ok {
					value = v
				}
			}
			if err := SetString(el, value); err != nil {
				continue
			}
		case actionUID:
			if err := SetString(el, NewUID()); err != nil {
				return nil, err
			}
		}
		kept = append(kept, el)
	}

	ds.Elements = kept
	if err := syncMediaStorageUID(&ds); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := dicom.Write(&buf, ds, dicom.SkipVRVerification(), dicom.SkipValueTypeVerification()); err != nil {
		return nil, fmt.Errorf("failed to write DICOM: %w", err)
	}
	return buf.Bytes(), nil
}

func runHandlers(handlers []ElementHandler, name string, el *dicom.Element) (Action, error) {
	for _, h := range handlers {
		action, err := h(name, el)
		if err != nil {
			return Continue, err
		}
		if action != Continue {
			return action, nil
		}
	}
	return Continue, nil
}

// SetString replaces a string-valued element's value with a single string
func SetString(el *dicom.Element, value string) error {
	if el.Value != nil && el.Value.ValueType() != dicom.Strings {
		return fmt.Errorf("element %s is not string valued", el.Tag.String())
	}
	v, err := dicom.NewValue([]string{value})
	if err != nil {
		return fmt.Errorf("failed to build value for %s: %w", el.Tag.String(), err)
	}
	el.Value = v
	return nil
}

// ElementString returns the element's first string value
func ElementString(el *dicom.Element) string {
	return firstString(el)
}

func syncMediaStorageUID(ds *dicom.Dataset) error {
	sop := StringValue(ds, tag.SOPInstanceUID)
	if sop == "" {
		return nil
	}
	el, err := ds.FindElementByTag(tag.MediaStorageSOPInstanceUID)
	if err != nil || el == nil {
		return nil
	}
	return SetString(el, sop)
}
