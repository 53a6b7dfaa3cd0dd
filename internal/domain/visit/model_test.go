package visit

import (
	"testing"
	"time"
)

func TestStatus_Valid(t *testing.T) {
	for _, s := range []Status{
		StatusDraft, StatusPending, StatusWithNurse,
		StatusReadyForDoctor, StatusWithDoctor, StatusCompleted, StatusCancelled,
	} {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if Status("archived").Valid() {
		t.Error("expected unknown status to be invalid")
	}
	if Status("").Valid() {
		t.Error("expected empty status to be invalid")
	}
}

func TestStatus_Terminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusCompleted: true,
		StatusCancelled: true,
	}
	for s := range validStatuses {
		if got := s.Terminal(); got != terminal[s] {
			t.Errorf("Terminal(%q) = %v, want %v", s, got, terminal[s])
		}
	}
}

func TestVisit_HasVitals(t *testing.T) {
	v := &Visit{}
	if v.HasVitals() {
		t.Error("empty visit should report no vitals")
	}
	v.SpO2 = intPtr(98)
	if !v.HasVitals() {
		t.Error("any single vitals field should count")
	}
}

func TestPreConsultationPayload_ApplyTo_MergesOnlySetFields(t *testing.T) {
	v := &Visit{
		PulseRate:       intPtr(70),
		ChiefComplaints: strPtr("fever"),
	}
	p := &PreConsultationPayload{
		PulseRate: intPtr(85),
		Pallor:    boolPtr(true),
	}
	p.ApplyTo(v)

	if *v.PulseRate != 85 {
		t.Errorf("expected pulse rate overwritten to 85, got %d", *v.PulseRate)
	}
	if v.ChiefComplaints == nil || *v.ChiefComplaints != "fever" {
		t.Error("unset payload field must not clear an existing value")
	}
	if v.Pallor == nil || !*v.Pallor {
		t.Error("expected pallor flag applied")
	}
}

func TestPreConsultationPayload_ApplyTo_ExplicitEmptyOverwrites(t *testing.T) {
	v := &Visit{PastHistory: strPtr("diabetic")}
	p := &PreConsultationPayload{PastHistory: strPtr("")}
	p.ApplyTo(v)

	if v.PastHistory == nil || *v.PastHistory != "" {
		t.Error("explicit empty string should overwrite the stored value")
	}
}

func TestConsultationPayload_ApplyTo(t *testing.T) {
	review := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	v := &Visit{Diagnosis: strPtr("preliminary")}
	p := &ConsultationPayload{
		Diagnosis:  strPtr("confirmed viral fever"),
		Treatment:  strPtr("rest and fluids"),
		ReviewDate: &review,
	}
	p.ApplyTo(v)

	if *v.Diagnosis != "confirmed viral fever" {
		t.Errorf("unexpected diagnosis: %q", *v.Diagnosis)
	}
	if v.Treatment == nil || *v.Treatment != "rest and fluids" {
		t.Error("expected treatment applied")
	}
	if v.ReviewDate == nil || !v.ReviewDate.Equal(review) {
		t.Error("expected review date applied")
	}
	if v.Advice != nil {
		t.Error("unset field must stay nil")
	}
}
