package visit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepo returns a Postgres-backed visit repository.
func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const visitCols = `id, patient_id, hospital_id, status, visit_date,
	assigned_nurse_id, assigned_doctor_id, nurse_name, doctor_name,
	pulse_rate, bp_systolic, bp_diastolic, spo2, temperature,
	chief_complaints, past_history, family_history, marital_history,
	pallor, icterus, cyanosis, clubbing, lymphadenopathy, edema,
	exam_cvs, exam_respiratory, exam_abdomen, exam_cns,
	diagnosis, treatment, investigation, advice, review_date,
	cancel_reason,
	is_nurse_assisted_visit, nurse_completed_at, doctor_completed_at,
	created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	v.ID = uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO visit (
			id, patient_id, hospital_id, status, visit_date,
			is_nurse_assisted_visit
		) VALUES ($1,$2,$3,$4,$5,$6)`,
		v.ID, v.PatientID, v.HospitalID, v.Status, v.VisitDate,
		v.IsNurseAssistedVisit,
	)
	if err != nil {
		return &StoreError{Op: "create", Err: err}
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.pool.QueryRow(ctx, `SELECT `+visitCols+` FROM visit WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, &StoreError{Op: "get", Err: err}
	}
	return v, nil
}

// UpdateWhereStatus is the compare-and-swap primitive. The row is locked for
// the duration of the transaction, so the status check and the write are one
// atomic step; a concurrent transition from the same prior status gets
// exactly one winner.
func (r *repoPG) UpdateWhereStatus(ctx context.Context, id uuid.UUID, expected Status, mutate func(*Visit) error, investigations ...*BloodInvestigation) (*Visit, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, &StoreError{Op: "begin", Err: err}
	}
	defer tx.Rollback(ctx)

	v, err := scanVisit(tx.QueryRow(ctx, `SELECT `+visitCols+` FROM visit WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, &StoreError{Op: "lock", Err: err}
	}
	if v.Status != expected {
		return nil, ErrConflict
	}

	if err := mutate(v); err != nil {
		return nil, err
	}
	v.UpdatedAt = time.Now().UTC()

	tag, err := tx.Exec(ctx, `
		UPDATE visit SET
			status=$2,
			assigned_nurse_id=$3, assigned_doctor_id=$4, nurse_name=$5, doctor_name=$6,
			pulse_rate=$7, bp_systolic=$8, bp_diastolic=$9, spo2=$10, temperature=$11,
			chief_complaints=$12, past_history=$13, family_history=$14, marital_history=$15,
			pallor=$16, icterus=$17, cyanosis=$18, clubbing=$19, lymphadenopathy=$20, edema=$21,
			exam_cvs=$22, exam_respiratory=$23, exam_abdomen=$24, exam_cns=$25,
			diagnosis=$26, treatment=$27, investigation=$28, advice=$29, review_date=$30,
			cancel_reason=$31,
			nurse_completed_at=$32, doctor_completed_at=$33, updated_at=$34
		WHERE id = $1 AND status = $35`,
		v.ID, v.Status,
		v.AssignedNurseID, v.AssignedDoctorID, v.NurseName, v.DoctorName,
		v.PulseRate, v.BPSystolic, v.BPDiastolic, v.SpO2, v.Temperature,
		v.ChiefComplaints, v.PastHistory, v.FamilyHistory, v.MaritalHistory,
		v.Pallor, v.Icterus, v.Cyanosis, v.Clubbing, v.Lymphadenopathy, v.Edema,
		v.ExamCVS, v.ExamRespiratory, v.ExamAbdomen, v.ExamCNS,
		v.Diagnosis, v.Treatment, v.Investigation, v.Advice, v.ReviewDate,
		v.CancelReason,
		v.NurseCompletedAt, v.DoctorCompletedAt, v.UpdatedAt,
		expected,
	)
	if err != nil {
		return nil, &StoreError{Op: "update", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrConflict
	}

	for _, inv := range investigations {
		inv.ID = uuid.New()
		inv.VisitID = v.ID
		_, err := tx.Exec(ctx, `
			INSERT INTO blood_investigation (id, visit_id, test_name, value, unit, reference_range, test_date)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			inv.ID, inv.VisitID, inv.TestName, inv.Value, inv.Unit, inv.ReferenceRange, inv.TestDate,
		)
		if err != nil {
			return nil, &StoreError{Op: "insert investigation", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &StoreError{Op: "commit", Err: err}
	}
	return v, nil
}

func (r *repoPG) ListByStatuses(ctx context.Context, hospitalID uuid.UUID, statuses []Status, order QueueOrder) ([]*Visit, error) {
	orderClause := `created_at ASC`
	if order == OrderByNurseCompleted {
		orderClause = `COALESCE(nurse_completed_at, created_at) ASC`
	}

	vals := make([]string, len(statuses))
	for i, s := range statuses {
		vals[i] = string(s)
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+visitCols+` FROM visit WHERE hospital_id = $1 AND status = ANY($2) ORDER BY `+orderClause,
		hospitalID, vals)
	if err != nil {
		return nil, &StoreError{Op: "list by status", Err: err}
	}
	defer rows.Close()
	return collectVisits(rows)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM visit WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, &StoreError{Op: "count by patient", Err: err}
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+visitCols+` FROM visit WHERE patient_id = $1 ORDER BY visit_date DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, &StoreError{Op: "list by patient", Err: err}
	}
	defer rows.Close()
	visits, err := collectVisits(rows)
	if err != nil {
		return nil, 0, err
	}
	return visits, total, nil
}

func (r *repoPG) GetBloodInvestigations(ctx context.Context, visitID uuid.UUID) ([]*BloodInvestigation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, visit_id, test_name, value, unit, reference_range, test_date, created_at
		FROM blood_investigation WHERE visit_id = $1 ORDER BY created_at ASC`, visitID)
	if err != nil {
		return nil, &StoreError{Op: "list investigations", Err: err}
	}
	defer rows.Close()

	var result []*BloodInvestigation
	for rows.Next() {
		inv := &BloodInvestigation{}
		if err := rows.Scan(&inv.ID, &inv.VisitID, &inv.TestName, &inv.Value, &inv.Unit,
			&inv.ReferenceRange, &inv.TestDate, &inv.CreatedAt); err != nil {
			return nil, &StoreError{Op: "scan investigation", Err: err}
		}
		result = append(result, inv)
	}
	return result, rows.Err()
}

func scanVisit(row pgx.Row) (*Visit, error) {
	v := &Visit{}
	err := row.Scan(
		&v.ID, &v.PatientID, &v.HospitalID, &v.Status, &v.VisitDate,
		&v.AssignedNurseID, &v.AssignedDoctorID, &v.NurseName, &v.DoctorName,
		&v.PulseRate, &v.BPSystolic, &v.BPDiastolic, &v.SpO2, &v.Temperature,
		&v.ChiefComplaints, &v.PastHistory, &v.FamilyHistory, &v.MaritalHistory,
		&v.Pallor, &v.Icterus, &v.Cyanosis, &v.Clubbing, &v.Lymphadenopathy, &v.Edema,
		&v.ExamCVS, &v.ExamRespiratory, &v.ExamAbdomen, &v.ExamCNS,
		&v.Diagnosis, &v.Treatment, &v.Investigation, &v.Advice, &v.ReviewDate,
		&v.CancelReason,
		&v.IsNurseAssistedVisit, &v.NurseCompletedAt, &v.DoctorCompletedAt,
		&v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func collectVisits(rows pgx.Rows) ([]*Visit, error) {
	var result []*Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, &StoreError{Op: "scan visit", Err: err}
		}
		result = append(result, v)
	}
	return result, rows.Err()
}
