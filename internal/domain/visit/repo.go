package visit

import (
	"context"

	"github.com/google/uuid"
)

// QueueOrder selects the sort key for queue projections.
type QueueOrder int

const (
	// OrderByCreated sorts oldest-first by created_at.
	OrderByCreated QueueOrder = iota
	// OrderByNurseCompleted sorts oldest-first by nurse_completed_at, falling
	// back to created_at for rows where it is not set.
	OrderByNurseCompleted
)

// Repository is the visit record store. UpdateWhereStatus is the single
// serialization point for all workflow mutations: it applies mutate to the
// current row and commits only if the row's status still equals expected,
// returning ErrConflict otherwise. The engine never performs an
// unconditional write.
type Repository interface {
	Create(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)

	// UpdateWhereStatus loads the visit, verifies its status equals expected,
	// applies mutate, and commits the result together with any blood
	// investigation child rows in one atomic step. Returns ErrNotFound if the
	// id does not exist and ErrConflict if the status no longer matches.
	UpdateWhereStatus(ctx context.Context, id uuid.UUID, expected Status, mutate func(*Visit) error, investigations ...*BloodInvestigation) (*Visit, error)

	ListByStatuses(ctx context.Context, hospitalID uuid.UUID, statuses []Status, order QueueOrder) ([]*Visit, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error)
	GetBloodInvestigations(ctx context.Context, visitID uuid.UUID) ([]*BloodInvestigation, error)
}
