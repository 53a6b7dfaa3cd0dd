package visit

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a visit. It is the sole driver of
// transition legality; exactly one value holds at any time.
type Status string

const (
	// StatusDraft is the pre-state for visits a doctor creates and starts
	// immediately without a nurse stage.
	StatusDraft Status = "draft"
	// StatusPending means the visit is registered and waiting for a nurse.
	StatusPending Status = "pending"
	// StatusWithNurse means a nurse has claimed the visit for pre-consultation.
	StatusWithNurse Status = "with-nurse"
	// StatusReadyForDoctor means pre-consultation is done and the visit is
	// waiting for a doctor.
	StatusReadyForDoctor Status = "ready-for-doctor"
	// StatusWithDoctor means a doctor has claimed the visit for consultation.
	StatusWithDoctor Status = "with-doctor"
	// StatusCompleted is terminal; the record is immutable.
	StatusCompleted Status = "completed"
	// StatusCancelled is terminal; the record is immutable.
	StatusCancelled Status = "cancelled"
)

var validStatuses = map[Status]bool{
	StatusDraft:          true,
	StatusPending:        true,
	StatusWithNurse:      true,
	StatusReadyForDoctor: true,
	StatusWithDoctor:     true,
	StatusCompleted:      true,
	StatusCancelled:      true,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return validStatuses[s] }

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Roles recognized by the workflow. The identity provider resolves the
// caller's role before a request reaches the engine.
const (
	RoleReceptionist = "receptionist"
	RoleNurse        = "nurse"
	RoleDoctor       = "doctor"
	RoleAdmin        = "admin"
)

// Visit maps to the visit table. One row per patient encounter.
//
// Pre-consultation fields are nurse-owned and writable only while status is
// pending or with-nurse. Consultation fields are doctor-owned and writable
// only while status is ready-for-doctor or with-doctor. Once the status is
// completed or cancelled no field changes again.
type Visit struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id"`
	HospitalID uuid.UUID `db:"hospital_id" json:"hospital_id"`
	Status     Status    `db:"status" json:"status"`
	VisitDate  time.Time `db:"visit_date" json:"visit_date"`

	AssignedNurseID  *uuid.UUID `db:"assigned_nurse_id" json:"assigned_nurse_id,omitempty"`
	AssignedDoctorID *uuid.UUID `db:"assigned_doctor_id" json:"assigned_doctor_id,omitempty"`
	NurseName        *string    `db:"nurse_name" json:"nurse_name,omitempty"`
	DoctorName       *string    `db:"doctor_name" json:"doctor_name,omitempty"`

	// Pre-consultation (nurse-owned)
	PulseRate       *int     `db:"pulse_rate" json:"pulse_rate,omitempty"`
	BPSystolic      *int     `db:"bp_systolic" json:"bp_systolic,omitempty"`
	BPDiastolic     *int     `db:"bp_diastolic" json:"bp_diastolic,omitempty"`
	SpO2            *int     `db:"spo2" json:"spo2,omitempty"`
	Temperature     *float64 `db:"temperature" json:"temperature,omitempty"`
	ChiefComplaints *string  `db:"chief_complaints" json:"chief_complaints,omitempty"`
	PastHistory     *string  `db:"past_history" json:"past_history,omitempty"`
	FamilyHistory   *string  `db:"family_history" json:"family_history,omitempty"`
	MaritalHistory  *string  `db:"marital_history" json:"marital_history,omitempty"`
	Pallor          *bool    `db:"pallor" json:"pallor,omitempty"`
	Icterus         *bool    `db:"icterus" json:"icterus,omitempty"`
	Cyanosis        *bool    `db:"cyanosis" json:"cyanosis,omitempty"`
	Clubbing        *bool    `db:"clubbing" json:"clubbing,omitempty"`
	Lymphadenopathy *bool    `db:"lymphadenopathy" json:"lymphadenopathy,omitempty"`
	Edema           *bool    `db:"edema" json:"edema,omitempty"`

	// Consultation (doctor-owned)
	ExamCVS         *string    `db:"exam_cvs" json:"exam_cvs,omitempty"`
	ExamRespiratory *string    `db:"exam_respiratory" json:"exam_respiratory,omitempty"`
	ExamAbdomen     *string    `db:"exam_abdomen" json:"exam_abdomen,omitempty"`
	ExamCNS         *string    `db:"exam_cns" json:"exam_cns,omitempty"`
	Diagnosis       *string    `db:"diagnosis" json:"diagnosis,omitempty"`
	Treatment       *string    `db:"treatment" json:"treatment,omitempty"`
	Investigation   *string    `db:"investigation" json:"investigation,omitempty"`
	Advice          *string    `db:"advice" json:"advice,omitempty"`
	ReviewDate      *time.Time `db:"review_date" json:"review_date,omitempty"`

	CancelReason *string `db:"cancel_reason" json:"cancel_reason,omitempty"`

	// Audit
	IsNurseAssistedVisit bool       `db:"is_nurse_assisted_visit" json:"is_nurse_assisted_visit"`
	NurseCompletedAt     *time.Time `db:"nurse_completed_at" json:"nurse_completed_at,omitempty"`
	DoctorCompletedAt    *time.Time `db:"doctor_completed_at" json:"doctor_completed_at,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// HasVitals reports whether at least one vitals field is populated.
func (v *Visit) HasVitals() bool {
	return v.PulseRate != nil || v.BPSystolic != nil || v.BPDiastolic != nil ||
		v.SpO2 != nil || v.Temperature != nil
}

// BloodInvestigation maps to the blood_investigation table, child of visit.
// Entries are recorded by the nurse during pre-consultation.
type BloodInvestigation struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	VisitID        uuid.UUID  `db:"visit_id" json:"visit_id"`
	TestName       string     `db:"test_name" json:"test_name"`
	Value          *string    `db:"value" json:"value,omitempty"`
	Unit           *string    `db:"unit" json:"unit,omitempty"`
	ReferenceRange *string    `db:"reference_range" json:"reference_range,omitempty"`
	TestDate       *time.Time `db:"test_date" json:"test_date,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// PreConsultationPayload is the partial update a nurse submits during the
// pre-consultation stage. Nil fields are left unchanged; set fields overwrite,
// including explicit empty values.
type PreConsultationPayload struct {
	PulseRate       *int     `json:"pulse_rate,omitempty"`
	BPSystolic      *int     `json:"bp_systolic,omitempty"`
	BPDiastolic     *int     `json:"bp_diastolic,omitempty"`
	SpO2            *int     `json:"spo2,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	ChiefComplaints *string  `json:"chief_complaints,omitempty"`
	PastHistory     *string  `json:"past_history,omitempty"`
	FamilyHistory   *string  `json:"family_history,omitempty"`
	MaritalHistory  *string  `json:"marital_history,omitempty"`
	Pallor          *bool    `json:"pallor,omitempty"`
	Icterus         *bool    `json:"icterus,omitempty"`
	Cyanosis        *bool    `json:"cyanosis,omitempty"`
	Clubbing        *bool    `json:"clubbing,omitempty"`
	Lymphadenopathy *bool    `json:"lymphadenopathy,omitempty"`
	Edema           *bool    `json:"edema,omitempty"`

	BloodInvestigations []BloodInvestigationInput `json:"blood_investigations,omitempty"`
}

// BloodInvestigationInput is a single blood test entry submitted with a
// pre-consultation update.
type BloodInvestigationInput struct {
	TestName       string     `json:"test_name"`
	Value          *string    `json:"value,omitempty"`
	Unit           *string    `json:"unit,omitempty"`
	ReferenceRange *string    `json:"reference_range,omitempty"`
	TestDate       *time.Time `json:"test_date,omitempty"`
}

// ApplyTo merges the payload into v field by field.
func (p *PreConsultationPayload) ApplyTo(v *Visit) {
	if p.PulseRate != nil {
		v.PulseRate = p.PulseRate
	}
	if p.BPSystolic != nil {
		v.BPSystolic = p.BPSystolic
	}
	if p.BPDiastolic != nil {
		v.BPDiastolic = p.BPDiastolic
	}
	if p.SpO2 != nil {
		v.SpO2 = p.SpO2
	}
	if p.Temperature != nil {
		v.Temperature = p.Temperature
	}
	if p.ChiefComplaints != nil {
		v.ChiefComplaints = p.ChiefComplaints
	}
	if p.PastHistory != nil {
		v.PastHistory = p.PastHistory
	}
	if p.FamilyHistory != nil {
		v.FamilyHistory = p.FamilyHistory
	}
	if p.MaritalHistory != nil {
		v.MaritalHistory = p.MaritalHistory
	}
	if p.Pallor != nil {
		v.Pallor = p.Pallor
	}
	if p.Icterus != nil {
		v.Icterus = p.Icterus
	}
	if p.Cyanosis != nil {
		v.Cyanosis = p.Cyanosis
	}
	if p.Clubbing != nil {
		v.Clubbing = p.Clubbing
	}
	if p.Lymphadenopathy != nil {
		v.Lymphadenopathy = p.Lymphadenopathy
	}
	if p.Edema != nil {
		v.Edema = p.Edema
	}
}

// ConsultationPayload is the partial update a doctor submits during the
// consultation stage. Same merge semantics as PreConsultationPayload.
type ConsultationPayload struct {
	ExamCVS         *string    `json:"exam_cvs,omitempty"`
	ExamRespiratory *string    `json:"exam_respiratory,omitempty"`
	ExamAbdomen     *string    `json:"exam_abdomen,omitempty"`
	ExamCNS         *string    `json:"exam_cns,omitempty"`
	Diagnosis       *string    `json:"diagnosis,omitempty"`
	Treatment       *string    `json:"treatment,omitempty"`
	Investigation   *string    `json:"investigation,omitempty"`
	Advice          *string    `json:"advice,omitempty"`
	ReviewDate      *time.Time `json:"review_date,omitempty"`
}

// ApplyTo merges the payload into v field by field.
func (p *ConsultationPayload) ApplyTo(v *Visit) {
	if p.ExamCVS != nil {
		v.ExamCVS = p.ExamCVS
	}
	if p.ExamRespiratory != nil {
		v.ExamRespiratory = p.ExamRespiratory
	}
	if p.ExamAbdomen != nil {
		v.ExamAbdomen = p.ExamAbdomen
	}
	if p.ExamCNS != nil {
		v.ExamCNS = p.ExamCNS
	}
	if p.Diagnosis != nil {
		v.Diagnosis = p.Diagnosis
	}
	if p.Treatment != nil {
		v.Treatment = p.Treatment
	}
	if p.Investigation != nil {
		v.Investigation = p.Investigation
	}
	if p.Advice != nil {
		v.Advice = p.Advice
	}
	if p.ReviewDate != nil {
		v.ReviewDate = p.ReviewDate
	}
}
