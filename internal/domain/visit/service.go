package visit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service is the workflow engine. Every mutation validates the caller's role,
// the ownership claim, and the current status, then commits through the
// repository's conditional update. Caller identity is passed explicitly; the
// engine never reads ambient session state.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateVisitInput carries everything needed to register a new visit.
type CreateVisitInput struct {
	PatientID     uuid.UUID
	HospitalID    uuid.UUID
	VisitDate     time.Time
	CreatorID     uuid.UUID
	CreatorRole   string
	NurseAssisted bool
}

// CreateVisit registers a new visit. Nurse-assisted visits start in pending
// and enter the nurse queue. A doctor may create a single-stage visit
// (NurseAssisted=false), which starts in draft and goes straight to
// consultation.
func (s *Service) CreateVisit(ctx context.Context, in CreateVisitInput) (*Visit, error) {
	if in.PatientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if in.HospitalID == uuid.Nil {
		return nil, fmt.Errorf("hospital_id is required")
	}
	switch in.CreatorRole {
	case RoleReceptionist, RoleNurse, RoleDoctor:
	default:
		return nil, fmt.Errorf("role %q may not create visits", in.CreatorRole)
	}
	if !in.NurseAssisted && in.CreatorRole != RoleDoctor {
		return nil, fmt.Errorf("only a doctor may create a visit without a nurse stage")
	}
	if in.VisitDate.IsZero() {
		in.VisitDate = time.Now().UTC()
	}

	v := &Visit{
		PatientID:            in.PatientID,
		HospitalID:           in.HospitalID,
		Status:               StatusPending,
		VisitDate:            in.VisitDate,
		IsNurseAssistedVisit: in.NurseAssisted,
	}
	if !in.NurseAssisted {
		v.Status = StatusDraft
	}
	if err := s.repo.Create(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// GetVisit returns the visit record.
func (s *Service) GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.repo.GetByID(ctx, id)
}

// GetBloodInvestigations returns the blood investigation entries recorded
// during pre-consultation.
func (s *Service) GetBloodInvestigations(ctx context.Context, visitID uuid.UUID) ([]*BloodInvestigation, error) {
	if _, err := s.repo.GetByID(ctx, visitID); err != nil {
		return nil, err
	}
	return s.repo.GetBloodInvestigations(ctx, visitID)
}

// ListPatientVisits returns the patient's visit history, newest first.
func (s *Service) ListPatientVisits(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// StartPreConsultation claims a pending visit for the calling nurse.
// First-come-first-served: any nurse may claim; losing a race surfaces an
// ownership error naming the winner's claim.
func (s *Service) StartPreConsultation(ctx context.Context, visitID, nurseID uuid.UUID, nurseName, callerRole string) (*Visit, error) {
	const transition = "startPreConsultation"
	if callerRole != RoleNurse {
		return nil, &OwnershipError{Transition: transition, CallerID: nurseID.String()}
	}

	mutate := func(v *Visit) error {
		if !v.IsNurseAssistedVisit {
			return &InvalidTransitionError{Transition: transition, Current: v.Status, Allowed: []Status{StatusPending}}
		}
		v.Status = StatusWithNurse
		v.AssignedNurseID = &nurseID
		v.NurseName = &nurseName
		return nil
	}

	v, err := s.casWithRetry(ctx, visitID, StatusPending, transition, mutate)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// UpdatePreConsultation merges nurse-stage fields into the visit. Only the
// assigned nurse may write, and only while the visit is with-nurse.
func (s *Service) UpdatePreConsultation(ctx context.Context, visitID, nurseID uuid.UUID, callerRole string, p *PreConsultationPayload) (*Visit, error) {
	const transition = "updatePreConsultation"
	if callerRole != RoleNurse {
		return nil, &OwnershipError{Transition: transition, CallerID: nurseID.String()}
	}

	var investigations []*BloodInvestigation
	for _, in := range p.BloodInvestigations {
		if strings.TrimSpace(in.TestName) == "" {
			return nil, &ValidationError{Transition: transition, Missing: []string{"blood_investigations.test_name"}}
		}
		investigations = append(investigations, &BloodInvestigation{
			TestName:       in.TestName,
			Value:          in.Value,
			Unit:           in.Unit,
			ReferenceRange: in.ReferenceRange,
			TestDate:       in.TestDate,
		})
	}

	mutate := func(v *Visit) error {
		if v.AssignedNurseID == nil || *v.AssignedNurseID != nurseID {
			return &OwnershipError{Transition: transition, CallerID: nurseID.String()}
		}
		p.ApplyTo(v)
		return nil
	}

	return s.cas(ctx, visitID, StatusWithNurse, transition, mutate, investigations...)
}

// CompletePreConsultation moves the visit to the doctor queue. Requires at
// least one vitals field and non-empty chief complaints. Never retried on
// conflict: a retry could double-stamp nurse_completed_at.
func (s *Service) CompletePreConsultation(ctx context.Context, visitID, nurseID uuid.UUID, callerRole string) (*Visit, error) {
	const transition = "completePreConsultation"
	if callerRole != RoleNurse {
		return nil, &OwnershipError{Transition: transition, CallerID: nurseID.String()}
	}

	mutate := func(v *Visit) error {
		if v.AssignedNurseID == nil || *v.AssignedNurseID != nurseID {
			return &OwnershipError{Transition: transition, CallerID: nurseID.String()}
		}
		var missing []string
		if !v.HasVitals() {
			missing = append(missing, "vitals")
		}
		if v.ChiefComplaints == nil || strings.TrimSpace(*v.ChiefComplaints) == "" {
			missing = append(missing, "chief_complaints")
		}
		if len(missing) > 0 {
			return &ValidationError{Transition: transition, Missing: missing}
		}
		now := time.Now().UTC()
		v.Status = StatusReadyForDoctor
		v.NurseCompletedAt = &now
		return nil
	}

	return s.cas(ctx, visitID, StatusWithNurse, transition, mutate)
}

// StartConsultation claims a visit for the calling doctor. Legal from
// ready-for-doctor, and from draft for single-stage visits created by a
// doctor.
func (s *Service) StartConsultation(ctx context.Context, visitID, doctorID uuid.UUID, doctorName, callerRole string) (*Visit, error) {
	const transition = "startConsultation"
	if callerRole != RoleDoctor {
		return nil, &OwnershipError{Transition: transition, CallerID: doctorID.String()}
	}

	cur, err := s.repo.GetByID(ctx, visitID)
	if err != nil {
		return nil, err
	}

	expected := StatusReadyForDoctor
	if cur.Status == StatusDraft && !cur.IsNurseAssistedVisit {
		expected = StatusDraft
	}

	mutate := func(v *Visit) error {
		v.Status = StatusWithDoctor
		v.AssignedDoctorID = &doctorID
		v.DoctorName = &doctorName
		return nil
	}

	return s.casWithRetry(ctx, visitID, expected, transition, mutate)
}

// UpdateConsultation merges doctor-stage fields into the visit. Only the
// assigned doctor may write, and only while the visit is with-doctor.
func (s *Service) UpdateConsultation(ctx context.Context, visitID, doctorID uuid.UUID, callerRole string, p *ConsultationPayload) (*Visit, error) {
	const transition = "updateConsultation"
	if callerRole != RoleDoctor {
		return nil, &OwnershipError{Transition: transition, CallerID: doctorID.String()}
	}

	mutate := func(v *Visit) error {
		if v.AssignedDoctorID == nil || *v.AssignedDoctorID != doctorID {
			return &OwnershipError{Transition: transition, CallerID: doctorID.String()}
		}
		p.ApplyTo(v)
		return nil
	}

	return s.cas(ctx, visitID, StatusWithDoctor, transition, mutate)
}

// FinalizeVisit completes the visit. Requires non-empty diagnosis and
// treatment. Never retried on conflict: a retry could double-stamp
// doctor_completed_at.
func (s *Service) FinalizeVisit(ctx context.Context, visitID, doctorID uuid.UUID, callerRole string) (*Visit, error) {
	const transition = "finalizeVisit"
	if callerRole != RoleDoctor {
		return nil, &OwnershipError{Transition: transition, CallerID: doctorID.String()}
	}

	mutate := func(v *Visit) error {
		if v.AssignedDoctorID == nil || *v.AssignedDoctorID != doctorID {
			return &OwnershipError{Transition: transition, CallerID: doctorID.String()}
		}
		var missing []string
		if v.Diagnosis == nil || strings.TrimSpace(*v.Diagnosis) == "" {
			missing = append(missing, "diagnosis")
		}
		if v.Treatment == nil || strings.TrimSpace(*v.Treatment) == "" {
			missing = append(missing, "treatment")
		}
		if len(missing) > 0 {
			return &ValidationError{Transition: transition, Missing: missing}
		}
		now := time.Now().UTC()
		v.Status = StatusCompleted
		v.DoctorCompletedAt = &now
		return nil
	}

	return s.cas(ctx, visitID, StatusWithDoctor, transition, mutate)
}

// CancelVisit terminates a visit from any non-terminal state. Claim fields
// are cleared; no further writes are accepted afterwards.
func (s *Service) CancelVisit(ctx context.Context, visitID, callerID uuid.UUID, callerRole, reason string) (*Visit, error) {
	const transition = "cancelVisit"
	switch callerRole {
	case RoleNurse, RoleDoctor, RoleAdmin:
	default:
		return nil, &OwnershipError{Transition: transition, CallerID: callerID.String()}
	}

	cur, err := s.repo.GetByID(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if cur.Status.Terminal() {
		return nil, &InvalidTransitionError{
			Transition: transition,
			Current:    cur.Status,
			Allowed:    []Status{StatusDraft, StatusPending, StatusWithNurse, StatusReadyForDoctor, StatusWithDoctor},
		}
	}

	mutate := func(v *Visit) error {
		v.Status = StatusCancelled
		v.CancelReason = &reason
		v.AssignedNurseID = nil
		v.AssignedDoctorID = nil
		return nil
	}

	return s.cas(ctx, visitID, cur.Status, transition, mutate)
}

// cas performs one conditional update. Conflicts are surfaced to the caller
// with a descriptive error; the record is untouched.
func (s *Service) cas(ctx context.Context, visitID uuid.UUID, expected Status, transition string, mutate func(*Visit) error, investigations ...*BloodInvestigation) (*Visit, error) {
	v, err := s.repo.UpdateWhereStatus(ctx, visitID, expected, mutate, investigations...)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, s.describeConflict(ctx, visitID, expected, transition)
		}
		return nil, err
	}
	return v, nil
}

// casWithRetry performs a conditional update with a single internal retry.
// Only claim transitions use it: re-submitting a claim is idempotent, unlike
// complete/finalize which stamp audit timestamps.
func (s *Service) casWithRetry(ctx context.Context, visitID uuid.UUID, expected Status, transition string, mutate func(*Visit) error) (*Visit, error) {
	v, err := s.repo.UpdateWhereStatus(ctx, visitID, expected, mutate)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, ErrConflict) {
		return nil, err
	}

	cur, gerr := s.repo.GetByID(ctx, visitID)
	if gerr != nil {
		return nil, gerr
	}
	if cur.Status != expected {
		return nil, s.describeConflict(ctx, visitID, expected, transition)
	}

	v, err = s.repo.UpdateWhereStatus(ctx, visitID, expected, mutate)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, s.describeConflict(ctx, visitID, expected, transition)
		}
		return nil, err
	}
	return v, nil
}

// describeConflict re-reads the record to turn a bare CAS loss into the most
// useful caller-facing error: a lost claim race reads as an ownership
// violation against the winner, anything else as an invalid transition from
// the status the record now holds.
func (s *Service) describeConflict(ctx context.Context, visitID uuid.UUID, expected Status, transition string) error {
	cur, err := s.repo.GetByID(ctx, visitID)
	if err != nil {
		return ErrConflict
	}
	if cur.Status == expected {
		return ErrConflict
	}
	switch {
	case expected == StatusPending && cur.Status == StatusWithNurse && cur.AssignedNurseID != nil:
		return &OwnershipError{Transition: transition, OwnerID: cur.AssignedNurseID.String()}
	case expected == StatusReadyForDoctor && cur.Status == StatusWithDoctor && cur.AssignedDoctorID != nil:
		return &OwnershipError{Transition: transition, OwnerID: cur.AssignedDoctorID.String()}
	}
	return &InvalidTransitionError{Transition: transition, Current: cur.Status, Allowed: []Status{expected}}
}
