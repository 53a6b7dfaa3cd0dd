package visit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// mockRepo is an in-memory Repository with the same conditional-update
// contract as the Postgres implementation.
type mockRepo struct {
	mu             sync.Mutex
	visits         map[uuid.UUID]*Visit
	investigations map[uuid.UUID][]*BloodInvestigation
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		visits:         make(map[uuid.UUID]*Visit),
		investigations: make(map[uuid.UUID][]*BloodInvestigation),
	}
}

func cloneVisit(v *Visit) *Visit {
	c := *v
	return &c
}

func (m *mockRepo) Create(ctx context.Context, v *Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = uuid.New()
	v.CreatedAt = time.Now().UTC()
	v.UpdatedAt = v.CreatedAt
	m.visits[v.ID] = cloneVisit(v)
	return nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneVisit(v), nil
}

func (m *mockRepo) UpdateWhereStatus(ctx context.Context, id uuid.UUID, expected Status, mutate func(*Visit) error, investigations ...*BloodInvestigation) (*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.visits[id]
	if !ok {
		return nil, ErrNotFound
	}
	if stored.Status != expected {
		return nil, ErrConflict
	}
	v := cloneVisit(stored)
	if err := mutate(v); err != nil {
		return nil, err
	}
	v.UpdatedAt = time.Now().UTC()
	m.visits[id] = cloneVisit(v)
	for _, inv := range investigations {
		inv.ID = uuid.New()
		inv.VisitID = id
		inv.CreatedAt = time.Now().UTC()
		m.investigations[id] = append(m.investigations[id], inv)
	}
	return v, nil
}

func (m *mockRepo) ListByStatuses(ctx context.Context, hospitalID uuid.UUID, statuses []Status, order QueueOrder) ([]*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var result []*Visit
	for _, v := range m.visits {
		if v.HospitalID == hospitalID && want[v.Status] {
			result = append(result, cloneVisit(v))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if order == OrderByNurseCompleted {
			return queueSortKey(result[i]).Before(queueSortKey(result[j]))
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func queueSortKey(v *Visit) time.Time {
	if v.NurseCompletedAt != nil {
		return *v.NurseCompletedAt
	}
	return v.CreatedAt
}

func (m *mockRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Visit
	for _, v := range m.visits {
		if v.PatientID == patientID {
			all = append(all, cloneVisit(v))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].VisitDate.After(all[j].VisitDate) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockRepo) GetBloodInvestigations(ctx context.Context, visitID uuid.UUID) ([]*BloodInvestigation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.investigations[visitID], nil
}

func strPtr(s string) *string   { return &s }
func intPtr(i int) *int         { return &i }
func f64Ptr(f float64) *float64 { return &f }
func boolPtr(b bool) *bool      { return &b }

func newTestVisit(t *testing.T, svc *Service, nurseAssisted bool) *Visit {
	t.Helper()
	role := RoleReceptionist
	if !nurseAssisted {
		role = RoleDoctor
	}
	v, err := svc.CreateVisit(context.Background(), CreateVisitInput{
		PatientID:     uuid.New(),
		HospitalID:    uuid.New(),
		CreatorID:     uuid.New(),
		CreatorRole:   role,
		NurseAssisted: nurseAssisted,
	})
	if err != nil {
		t.Fatalf("CreateVisit: %v", err)
	}
	return v
}

func TestCreateVisit_NurseAssistedStartsPending(t *testing.T) {
	svc := NewService(newMockRepo())
	v := newTestVisit(t, svc, true)

	if v.Status != StatusPending {
		t.Errorf("expected status pending, got %q", v.Status)
	}
	if !v.IsNurseAssistedVisit {
		t.Error("expected nurse-assisted flag")
	}
	if v.VisitDate.IsZero() {
		t.Error("expected visit_date to default to today")
	}
}

func TestCreateVisit_SingleStageStartsDraft(t *testing.T) {
	svc := NewService(newMockRepo())
	v := newTestVisit(t, svc, false)

	if v.Status != StatusDraft {
		t.Errorf("expected status draft, got %q", v.Status)
	}
}

func TestCreateVisit_SingleStageRequiresDoctor(t *testing.T) {
	svc := NewService(newMockRepo())
	_, err := svc.CreateVisit(context.Background(), CreateVisitInput{
		PatientID:     uuid.New(),
		HospitalID:    uuid.New(),
		CreatorID:     uuid.New(),
		CreatorRole:   RoleReceptionist,
		NurseAssisted: false,
	})
	if err == nil {
		t.Fatal("expected error when a receptionist creates a single-stage visit")
	}
}

func TestCreateVisit_RejectsUnknownRole(t *testing.T) {
	svc := NewService(newMockRepo())
	_, err := svc.CreateVisit(context.Background(), CreateVisitInput{
		PatientID:     uuid.New(),
		HospitalID:    uuid.New(),
		CreatorID:     uuid.New(),
		CreatorRole:   "janitor",
		NurseAssisted: true,
	})
	if err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestWorkflow_HappyPath(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockRepo())
	v := newTestVisit(t, svc, true)

	nurseID := uuid.New()
	v, err := svc.StartPreConsultation(ctx, v.ID, nurseID, "Nurse Joy", RoleNurse)
	if err != nil {
		t.Fatalf("StartPreConsultation: %v", err)
	}
	if v.Status != StatusWithNurse {
		t.Fatalf("expected with-nurse, got %q", v.Status)
	}
	if v.AssignedNurseID == nil || *v.AssignedNurseID != nurseID {
		t.Fatal("expected nurse claim to be recorded")
	}

	v, err = svc.UpdatePreConsultation(ctx, v.ID, nurseID, RoleNurse, &PreConsultationPayload{
		PulseRate:       intPtr(72),
		BPSystolic:      intPtr(120),
		BPDiastolic:     intPtr(80),
		Temperature:     f64Ptr(37.1),
		ChiefComplaints: strPtr("headache for two days"),
		Pallor:          boolPtr(false),
	})
	if err != nil {
		t.Fatalf("UpdatePreConsultation: %v", err)
	}
	if v.PulseRate == nil || *v.PulseRate != 72 {
		t.Error("expected pulse rate to be recorded")
	}

	v, err = svc.CompletePreConsultation(ctx, v.ID, nurseID, RoleNurse)
	if err != nil {
		t.Fatalf("CompletePreConsultation: %v", err)
	}
	if v.Status != StatusReadyForDoctor {
		t.Fatalf("expected ready-for-doctor, got %q", v.Status)
	}
	if v.NurseCompletedAt == nil {
		t.Fatal("expected nurse_completed_at to be stamped")
	}

	doctorID := uuid.New()
	v, err = svc.StartConsultation(ctx, v.ID, doctorID, "Dr. Acula", RoleDoctor)
	if err != nil {
		t.Fatalf("StartConsultation: %v", err)
	}
	if v.Status != StatusWithDoctor {
		t.Fatalf("expected with-doctor, got %q", v.Status)
	}

	v, err = svc.UpdateConsultation(ctx, v.ID, doctorID, RoleDoctor, &ConsultationPayload{
		Diagnosis: strPtr("tension headache"),
		Treatment: strPtr("paracetamol 500mg"),
		Advice:    strPtr("hydrate, rest"),
	})
	if err != nil {
		t.Fatalf("UpdateConsultation: %v", err)
	}

	v, err = svc.FinalizeVisit(ctx, v.ID, doctorID, RoleDoctor)
	if err != nil {
		t.Fatalf("FinalizeVisit: %v", err)
	}
	if v.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", v.Status)
	}
	if v.DoctorCompletedAt == nil {
		t.Fatal("expected doctor_completed_at to be stamped")
	}
	if v.NurseCompletedAt.After(*v.DoctorCompletedAt) {
		t.Error("nurse completion must not postdate doctor completion")
	}

	// Terminal: no further writes.
	_, err = svc.UpdateConsultation(ctx, v.ID, doctorID, RoleDoctor, &ConsultationPayload{
		Advice: strPtr("come back next week"),
	})
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError after completion, got %v", err)
	}
	if ite.Current != StatusCompleted {
		t.Errorf("expected conflict reported from completed, got %q", ite.Current)
	}
}

func TestWorkflow_SingleStagePath(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockRepo())
	v := newTestVisit(t, svc, false)

	doctorID := uuid.New()
	v, err := svc.StartConsultation(ctx, v.ID, doctorID, "Dr. House", RoleDoctor)
	if err != nil {
		t.Fatalf("StartConsultation from draft: %v", err)
	}
	if v.Status != StatusWithDoctor {
		t.Fatalf("expected with-doctor, got %q", v.Status)
	}

	if _, err := svc.UpdateConsultation(ctx, v.ID, doctorID, RoleDoctor, &ConsultationPayload{
		Diagnosis: strPtr("lupus"),
		Treatment: strPtr("prednisone"),
	}); err != nil {
		t.Fatalf("UpdateConsultation: %v", err)
	}

	v, err = svc.FinalizeVisit(ctx, v.ID, doctorID, RoleDoctor)
	if err != nil {
		t.Fatalf("FinalizeVisit: %v", err)
	}
	if v.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", v.Status)
	}
	if v.NurseCompletedAt != nil {
		t.Error("single-stage visit must not carry a nurse completion timestamp")
	}
}

func TestStartPreConsultation_RejectsSingleStageVisit(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockRepo())
	v := newTestVisit(t, svc, false)

	_, err := svc.StartPreConsultation(ctx, v.ID, uuid.New(), "Nurse Joy", RoleNurse)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestStartPreConsultation_RejectsNonNurse(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockRepo())
	v := newTestVisit(t, svc, true)

	_, err := svc.StartPreConsultation(ctx, v.ID, uuid.New(), "Dr. Acula", RoleDoctor)
	var oe *OwnershipError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OwnershipError, got %v", err)
	}
}

func TestUpdatePreConsultation_RejectsOtherNurse(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockRepo())
	v := newTestVisit(t, svc, true)

	ownerID := uuid.New()
	if _, err := svc.StartPreConsultation(ctx, v.ID, ownerID, "N1", RoleNurse); err != nil {
		t.Fatalf("StartPreConsultation: %v", err)
	}

	intruderID := uuid.New()
	_, err := svc.UpdatePreConsultation(ctx, v.ID, intruderID, RoleNurse, &PreConsultationPayload{
		PulseRate: intPtr(80),
	})
	var oe *OwnershipError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OwnershipError, got %v", err)
	}

	// Owner's record is unchanged.
	cur, err := svc.GetVisit(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetVisit: %v", err)
	}
	if cur.PulseRate != nil {
		t.Error("rejected write must not modify the record")
	}
}

func TestUpdatePreConsultation_RejectsBlankTestName(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockRepo())
	v := newTestVisit(t, svc, true)

	nurseID := uuid.New()
	if _, err := svc.StartPreConsultation(ctx, v.ID, nurseID, "N1", RoleNurse); err != nil {
		t.Fatalf("StartPreConsultation: %v", err)
	}

	_, err := svc.UpdatePreConsultation(ctx, v.ID, nurseID, RoleNurse, &PreConsultationPayload{
		BloodInvestigations: []BloodInvestigationInput{{TestName: "   "}},
	})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestUpdatePreConsultation_RecordsInvestigations(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockRepo())
	v := newTestVisit(t, svc, true)

	nurseID := uuid.New()
	if _, err := svc.StartPreConsultation(ctx, v.ID, nurseID, "N1", RoleNurse); err != nil {
		t.Fatalf("StartPreConsultation: %v", err)
	}
	if _, err := svc.UpdatePreConsultation(ctx, v.ID, nurseID, RoleNurse, &PreConsultationPayload{
		BloodInvestigations: []BloodInvestigationInput{
			{TestName: "Hemoglobin", Value: strPtr("13.5"), Unit: strPtr("g/dL")},
			{TestName: "WBC", Value: strPtr("7200"), Unit: strPtr("/µL")},
		},
	}); err != nil {
		t.Fatalf("UpdatePreConsultation: %v", err)
	}

	invs, err := svc.GetBloodInvestigations(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetBloodInvestigations: %v", err)
	}
	if len(invs) != 2 {
		t.Fatalf("expected 2 investigations, got %d", len(invs))
	}
	if invs[0].VisitID != v.ID {
		t.Error("investigation must reference the visit")
	}
}

func TestCompletePreConsultation_RequiresVitalsAndComplaints(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockRepo())
	v := newTestVisit(t, svc, true)

	nurseID := uuid.New()
	if _, err := svc.StartPreConsultation(ctx, v.ID, nurseID, "N1", RoleNurse); err != nil {
		t.Fatalf("StartPreConsultation: %v", err)
	}

	_, err := svc.CompletePreConsultation(ctx, v.ID, nurseID, RoleNurse)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Missing) != 2 {
		t.Errorf("expected both vitals and chief_complaints reported, got %v", ve.Missing)
	}

	// Gate failure must not advance the status.
	cur, _ := svc.GetVisit(ctx, v.ID)
	if cur.Status != StatusWithNurse {
		t.Errorf("expected status to remain with-nurse, got %q", cur.Status)
	}
	if cur.NurseCompletedAt != nil {
		t.Error("failed completion must not stamp nurse_completed_at")
	}
}

func TestFinalizeVisit_RequiresDiagnosisAndTreatment(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockRepo())
	v := newTestVisit(t, svc, false)

	doctorID := uuid.New()
	if _, err := svc.StartConsultation(ctx, v.ID, doctorID, "D1", RoleDoctor); err != nil {
		t.Fatalf("StartConsultation: %v", err)
	}

	_, err := svc.FinalizeVisit(ctx, v.ID, doctorID, RoleDoctor)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	cur, _ := svc.GetVisit(ctx, v.ID)
	if cur.Status != StatusWithDoctor {
		t.Errorf("expected status to remain with-doctor, got %q", cur.Status)
	}
	if cur.DoctorCompletedAt != nil {
		t.Error("failed finalize must not stamp doctor_completed_at")
	}
}

func TestCancelVisit(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockRepo())
	v := newTestVisit(t, svc, true)

	nurseID := uuid.New()
	if _, err := svc.StartPreConsultation(ctx, v.ID, nurseID, "N1", RoleNurse); err != nil {
		t.Fatalf("StartPreConsultation: %v", err)
	}

	v, err := svc.CancelVisit(ctx, v.ID, nurseID, RoleNurse, "patient left")
	if err != nil {
		t.Fatalf("CancelVisit: %v", err)
	}
	if v.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %q", v.Status)
	}
	if v.CancelReason == nil || *v.CancelReason != "patient left" {
		t.Error("expected cancel reason to be recorded")
	}
	if v.AssignedNurseID != nil || v.AssignedDoctorID != nil {
		t.Error("expected claim fields to be cleared")
	}

	// Cancelled is terminal.
	_, err = svc.CompletePreConsultation(ctx, v.ID, nurseID, RoleNurse)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError after cancel, got %v", err)
	}

	_, err = svc.CancelVisit(ctx, v.ID, nurseID, RoleNurse, "again")
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError on double cancel, got %v", err)
	}
}

func TestCancelVisit_RejectsReceptionist(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockRepo())
	v := newTestVisit(t, svc, true)

	_, err := svc.CancelVisit(ctx, v.ID, uuid.New(), RoleReceptionist, "oops")
	var oe *OwnershipError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OwnershipError, got %v", err)
	}
}

func TestStartPreConsultation_ConcurrentClaimHasOneWinner(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockRepo())
	v := newTestVisit(t, svc, true)

	n1, n2 := uuid.New(), uuid.New()
	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = svc.StartPreConsultation(ctx, v.ID, n1, "N1", RoleNurse)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = svc.StartPreConsultation(ctx, v.ID, n2, "N2", RoleNurse)
	}()
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		var oe *OwnershipError
		if !errors.As(err, &oe) {
			t.Errorf("loser should see an OwnershipError, got %v", err)
		} else if oe.OwnerID == "" {
			t.Error("loser's error should name the winning claim")
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	cur, err := svc.GetVisit(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetVisit: %v", err)
	}
	if cur.Status != StatusWithNurse {
		t.Fatalf("expected with-nurse, got %q", cur.Status)
	}
	if cur.AssignedNurseID == nil {
		t.Fatal("expected exactly one nurse claim")
	}
	if got := *cur.AssignedNurseID; got != n1 && got != n2 {
		t.Errorf("claim belongs to neither contender: %s", got)
	}
}

func TestStartConsultation_LostRaceNamesWinner(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockRepo())
	v := newTestVisit(t, svc, true)

	nurseID := uuid.New()
	if _, err := svc.StartPreConsultation(ctx, v.ID, nurseID, "N1", RoleNurse); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UpdatePreConsultation(ctx, v.ID, nurseID, RoleNurse, &PreConsultationPayload{
		PulseRate:       intPtr(70),
		ChiefComplaints: strPtr("fever"),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CompletePreConsultation(ctx, v.ID, nurseID, RoleNurse); err != nil {
		t.Fatal(err)
	}

	d1 := uuid.New()
	if _, err := svc.StartConsultation(ctx, v.ID, d1, "D1", RoleDoctor); err != nil {
		t.Fatal(err)
	}

	_, err := svc.StartConsultation(ctx, v.ID, uuid.New(), "D2", RoleDoctor)
	var oe *OwnershipError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OwnershipError, got %v", err)
	}
	if oe.OwnerID != d1.String() {
		t.Errorf("expected error to name %s, got %q", d1, oe.OwnerID)
	}
}

func TestGetVisit_NotFound(t *testing.T) {
	svc := NewService(newMockRepo())
	_, err := svc.GetVisit(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListPatientVisits_Pagination(t *testing.T) {
	ctx := context.Background()
	repo := newMockRepo()
	svc := NewService(repo)

	patientID := uuid.New()
	hospitalID := uuid.New()
	for i := 0; i < 5; i++ {
		_, err := svc.CreateVisit(ctx, CreateVisitInput{
			PatientID:   patientID,
			HospitalID:  hospitalID,
			VisitDate:   time.Date(2026, 8, 1+i, 0, 0, 0, 0, time.UTC),
			CreatorID:     uuid.New(),
			CreatorRole:   RoleReceptionist,
			NurseAssisted: true,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	page, total, err := svc.ListPatientVisits(ctx, patientID, 2, 0)
	if err != nil {
		t.Fatalf("ListPatientVisits: %v", err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 visits, got %d", len(page))
	}
	if !page[0].VisitDate.After(page[1].VisitDate) {
		t.Error("expected newest-first ordering")
	}
}
