// Package record holds the patient record model and the field-merge engine
// that folds extracted visit data into an existing record.
package record

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when no record exists for the given ID.
var ErrNotFound = errors.New("record: patient not found")

// Field names a single column of a patient record. The string value matches
// the storage column name and the key emitted by the extraction prompt.
type Field string

// ─── Field vocabulary ────────────────────────────────────────────────────────

const (
	FieldFirstName      Field = "first_name"
	FieldLastName       Field = "last_name"
	FieldAge            Field = "age"
	FieldGender         Field = "gender"
	FieldDateOfBirth    Field = "date_of_birth"
	FieldSymptoms       Field = "symptoms"
	FieldVitalSigns     Field = "vital_signs"
	FieldMedications    Field = "medications"
	FieldAllergies      Field = "allergies"
	FieldMedicalHistory Field = "medical_history"
	FieldFamilyHistory  Field = "family_history"
	FieldDiagnosis      Field = "diagnosis"
	FieldTreatmentPlan  Field = "treatment_plan"
	FieldFollowUpDate   Field = "follow_up_date"
	FieldNotes          Field = "notes"
)

// protected fields are identity/audit columns that merges must never touch.
var protected = map[Field]bool{
	FieldFirstName:   true,
	FieldLastName:    true,
	FieldAge:         true,
	FieldGender:      true,
	FieldDateOfBirth: true,
	"id":             true,
	"created_at":     true,
	"updated_at":     true,
}

// listFields hold comma-joined item collections with set-union merge
// semantics.
var listFields = []Field{
	FieldSymptoms,
	FieldVitalSigns,
	FieldMedications,
	FieldAllergies,
	FieldMedicalHistory,
	FieldFamilyHistory,
	FieldDiagnosis,
	FieldTreatmentPlan,
	FieldFollowUpDate,
}

// Protected reports whether f may never be written by a merge.
func Protected(f Field) bool { return protected[f] }

// MergeableFields returns the fields a merge may write: every list field
// plus notes. The returned slice is a copy.
func MergeableFields() []Field {
	fields := make([]Field, 0, len(listFields)+1)
	fields = append(fields, listFields...)
	return append(fields, FieldNotes)
}

// ExtractableFields returns the full vocabulary the extractor may emit,
// including protected intake fields (which the merge engine then ignores).
func ExtractableFields() []Field {
	return []Field{
		FieldFirstName, FieldLastName, FieldAge, FieldGender, FieldDateOfBirth,
		FieldSymptoms, FieldVitalSigns, FieldMedications, FieldAllergies,
		FieldMedicalHistory, FieldFamilyHistory, FieldDiagnosis,
		FieldTreatmentPlan, FieldFollowUpDate, FieldNotes,
	}
}

// PatientRecord is one row of the patient store. Optional text columns use
// the empty string for NULL; Age uses 0 for unknown.
type PatientRecord struct {
	ID          int64
	FirstName   string
	LastName    string
	Age         int
	Gender      string
	DateOfBirth string

	Symptoms       string
	VitalSigns     string
	Medications    string
	Allergies      string
	MedicalHistory string
	FamilyHistory  string
	Diagnosis      string
	TreatmentPlan  string
	FollowUpDate   string
	Notes          string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FullName returns "First Last" for display.
func (r *PatientRecord) FullName() string {
	switch {
	case r.FirstName == "":
		return r.LastName
	case r.LastName == "":
		return r.FirstName
	}
	return r.FirstName + " " + r.LastName
}

// Value returns the current stored value for f, or "" when f is not a
// mergeable text field.
func (r *PatientRecord) Value(f Field) string {
	switch f {
	case FieldSymptoms:
		return r.Symptoms
	case FieldVitalSigns:
		return r.VitalSigns
	case FieldMedications:
		return r.Medications
	case FieldAllergies:
		return r.Allergies
	case FieldMedicalHistory:
		return r.MedicalHistory
	case FieldFamilyHistory:
		return r.FamilyHistory
	case FieldDiagnosis:
		return r.Diagnosis
	case FieldTreatmentPlan:
		return r.TreatmentPlan
	case FieldFollowUpDate:
		return r.FollowUpDate
	case FieldNotes:
		return r.Notes
	}
	return ""
}

// SetValue writes v into the column named by f, ignoring protected and
// unknown fields. Used by stores when applying merge output.
func (r *PatientRecord) SetValue(f Field, v string) {
	switch f {
	case FieldSymptoms:
		r.Symptoms = v
	case FieldVitalSigns:
		r.VitalSigns = v
	case FieldMedications:
		r.Medications = v
	case FieldAllergies:
		r.Allergies = v
	case FieldMedicalHistory:
		r.MedicalHistory = v
	case FieldFamilyHistory:
		r.FamilyHistory = v
	case FieldDiagnosis:
		r.Diagnosis = v
	case FieldTreatmentPlan:
		r.TreatmentPlan = v
	case FieldFollowUpDate:
		r.FollowUpDate = v
	case FieldNotes:
		r.Notes = v
	}
}

// ProposedUpdate carries candidate values extracted from a visit, keyed by
// field. Callers drop absent/null fields before constructing one; an empty
// string value is treated as absent by the merge engine.
type ProposedUpdate map[Field]string

// Updates is the merge output: the exact new values to persist, keyed by
// field. An empty map means the record must not be written at all.
type Updates map[Field]string
