package dicomio

import (
	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/suyashkumar/dicom/pkg/tag"
)

type profileAction int

const (
	actionNone profileAction = iota
	// replace with a dummy value (or zero length when none is configured)
	actionDummy
	// remove the element entirely
	actionRemove
	// replace with a freshly generated UID
	actionUID
)

// basicProfile covers direct identifiers of the patient, the staff and the
// institution
var basicProfile = map[tag.Tag]profileAction{
	tag.PatientName:                        actionDummy,
	tag.PatientID:                          actionDummy,
	tag.PatientBirthDate:                   actionDummy,
	tag.PatientBirthTime:                   actionRemove,
	tag.PatientAddress:                     actionRemove,
	tag.PatientTelephoneNumbers:            actionRemove,
	tag.OtherPatientIDs:                    actionRemove,
	tag.OtherPatientIDsSequence:            actionRemove,
	tag.OtherPatientNames:                  actionRemove,
	tag.PatientMotherBirthName:             actionRemove,
	tag.MilitaryRank:                       actionRemove,
	tag.EthnicGroup:                        actionRemove,
	tag.PatientReligiousPreference:         actionRemove,
	tag.PatientComments:                    actionRemove,
	tag.ReferringPhysicianName:             actionDummy,
	tag.ReferringPhysicianAddress:          actionRemove,
	tag.ReferringPhysicianTelephoneNumbers: actionRemove,
	tag.PerformingPhysicianName:            actionRemove,
	tag.OperatorsName:                      actionRemove,
	tag.PhysiciansOfRecord:                 actionRemove,
	tag.NameOfPhysiciansReadingStudy:       actionRemove,
	tag.RequestingPhysician:                actionRemove,
	tag.ScheduledPerformingPhysicianName:   actionRemove,
	tag.InstitutionName:                    actionRemove,
	tag.InstitutionAddress:                 actionRemove,
	tag.InstitutionalDepartmentName:        actionRemove,
	tag.AccessionNumber:                    actionDummy,
	tag.StudyID:                            actionDummy,
	tag.RequestAttributesSequence:          actionRemove,
	tag.PerformedProcedureStepID:           actionRemove,
	tag.ScheduledProcedureStepID:           actionRemove,
	tag.StudyInstanceUID:                   actionUID,
	tag.SeriesInstanceUID:                  actionUID,
	tag.SOPInstanceUID:                     actionUID,
}

// cleanProfile adds free-text descriptors and device identifiers
var cleanProfile = map[tag.Tag]profileAction{
	tag.StudyDescription:                  actionDummy,
	tag.SeriesDescription:                 actionDummy,
	tag.ProtocolName:                      actionDummy,
	tag.ImageComments:                     actionRemove,
	tag.AdditionalPatientHistory:          actionRemove,
	tag.RequestedProcedureDescription:     actionRemove,
	tag.PerformedProcedureStepDescription: actionRemove,
	tag.DerivationDescription:             actionRemove,
	tag.StationName:                       actionRemove,
	tag.DeviceSerialNumber:                actionRemove,
}

// veryCleanProfile adds demographics and times
var veryCleanProfile = map[tag.Tag]profileAction{
	tag.PatientSex:           actionDummy,
	tag.PatientAge:           actionRemove,
	tag.PatientSize:          actionRemove,
	tag.PatientWeight:        actionRemove,
	tag.StudyTime:            actionDummy,
	tag.SeriesTime:           actionRemove,
	tag.AcquisitionTime:      actionRemove,
	tag.ContentTime:          actionRemove,
	tag.InstanceCreationTime: actionRemove,
}

// profileActions returns the cumulative action table for a level
func profileActions(level models.ProfileLevel) map[tag.Tag]profileAction {
	layers := []map[tag.Tag]profileAction{basicProfile}
	switch level {
	case models.ProfileClean:
		layers = append(layers, cleanProfile)
	case models.ProfileVeryClean:
		layers = append(layers, cleanProfile, veryCleanProfile)
	}

	actions := make(map[tag.Tag]profileAction)
	for _, layer := range layers {
		for t, a := range layer {
			actions[t] = a
		}
	}
	return actions
}
