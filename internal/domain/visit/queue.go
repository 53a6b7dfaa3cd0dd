package visit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PatientDisplay is the subset of patient data shown on queue screens.
type PatientDisplay struct {
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
	Phone  string `json:"phone"`
}

// PatientDirectory resolves patient display fields for queue enrichment.
// The patient registry implements it; the projector only reads.
type PatientDirectory interface {
	GetDisplay(ctx context.Context, id uuid.UUID) (*PatientDisplay, error)
}

// QueueEntry is one row of a staff queue.
type QueueEntry struct {
	VisitID          uuid.UUID       `json:"visit_id"`
	PatientID        uuid.UUID       `json:"patient_id"`
	Status           Status          `json:"status"`
	VisitDate        time.Time       `json:"visit_date"`
	ChiefComplaints  *string         `json:"chief_complaints,omitempty"`
	AssignedNurseID  *uuid.UUID      `json:"assigned_nurse_id,omitempty"`
	AssignedDoctorID *uuid.UUID      `json:"assigned_doctor_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	NurseCompletedAt *time.Time      `json:"nurse_completed_at,omitempty"`
	Patient          *PatientDisplay `json:"patient,omitempty"`
}

// Projector derives the nurse and doctor queues from the store. Both queues
// are recomputed on every call; no cached state is held between requests.
type Projector struct {
	repo     Repository
	patients PatientDirectory
}

// NewProjector creates a queue projector. patients may be nil, in which case
// entries carry no patient display fields.
func NewProjector(repo Repository, patients PatientDirectory) *Projector {
	return &Projector{repo: repo, patients: patients}
}

// NurseQueue returns visits waiting for or undergoing pre-consultation,
// oldest first by creation time.
func (p *Projector) NurseQueue(ctx context.Context, hospitalID uuid.UUID) ([]*QueueEntry, error) {
	visits, err := p.repo.ListByStatuses(ctx, hospitalID,
		[]Status{StatusPending, StatusWithNurse}, OrderByCreated)
	if err != nil {
		return nil, err
	}
	return p.project(ctx, visits), nil
}

// DoctorQueue returns visits waiting for or undergoing consultation, oldest
// first by the time the nurse stage finished.
func (p *Projector) DoctorQueue(ctx context.Context, hospitalID uuid.UUID) ([]*QueueEntry, error) {
	visits, err := p.repo.ListByStatuses(ctx, hospitalID,
		[]Status{StatusReadyForDoctor, StatusWithDoctor}, OrderByNurseCompleted)
	if err != nil {
		return nil, err
	}
	return p.project(ctx, visits), nil
}

func (p *Projector) project(ctx context.Context, visits []*Visit) []*QueueEntry {
	entries := make([]*QueueEntry, 0, len(visits))
	for _, v := range visits {
		e := &QueueEntry{
			VisitID:          v.ID,
			PatientID:        v.PatientID,
			Status:           v.Status,
			VisitDate:        v.VisitDate,
			ChiefComplaints:  v.ChiefComplaints,
			AssignedNurseID:  v.AssignedNurseID,
			AssignedDoctorID: v.AssignedDoctorID,
			CreatedAt:        v.CreatedAt,
			NurseCompletedAt: v.NurseCompletedAt,
		}
		if p.patients != nil {
			// Enrichment is best-effort; a missing patient record does not
			// hide the visit from the queue.
			if d, err := p.patients.GetDisplay(ctx, v.PatientID); err == nil {
				e.Patient = d
			}
		}
		entries = append(entries, e)
	}
	return entries
}
