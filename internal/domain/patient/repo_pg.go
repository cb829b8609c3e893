package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ehr/readmission/internal/platform/db"
	"github.com/ehr/readmission/internal/platform/metrics"
)

type repoPG struct {
	db      db.Querier
	timeout time.Duration
	metrics *metrics.Manager
}

// NewRepo returns a Repository over the patients table. Every call is bounded
// by timeout; m may be nil.
func NewRepo(q db.Querier, timeout time.Duration, m *metrics.Manager) Repository {
	return &repoPG{db: q, timeout: timeout, metrics: m}
}

const encounterCols = `encounter_id, race, gender, age, time_in_hospital, num_medications, number_inpatient, readmitted`

func (r *repoPG) Sample(ctx context.Context, limit int) ([]*Encounter, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()
	defer r.observe("sample", time.Now())

	rows, err := r.db.Query(ctx, `SELECT `+encounterCols+` FROM patients LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("sample patients: %w", err)
	}
	defer rows.Close()

	encs := []*Encounter{}
	for rows.Next() {
		e, err := scanEncounter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		encs = append(encs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sample patients: %w", err)
	}
	return encs, nil
}

func (r *repoPG) FindByID(ctx context.Context, encounterID int64) (*Encounter, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()
	defer r.observe("find_by_id", time.Now())

	e, err := scanEncounter(r.db.QueryRow(ctx,
		`SELECT `+encounterCols+` FROM patients WHERE encounter_id = $1`, encounterID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find encounter %d: %w", encounterID, err)
	}
	return e, nil
}

func (r *repoPG) Query(ctx context.Context, sqlText string) (*QueryResult, error) {
	stmt, err := ValidateStatement(sqlText)
	if err != nil {
		return nil, err
	}
	defer r.observe("console", time.Now())

	res, err := r.readOnly(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return res, nil
}

func (r *repoPG) RunNamed(ctx context.Context, id string) (*QueryResult, error) {
	q := FindNamedQuery(id)
	if q == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuery, id)
	}
	defer r.observe("named", time.Now())

	res, err := r.readOnly(ctx, q.SQL)
	if err != nil {
		return nil, fmt.Errorf("run query %s: %w", id, err)
	}
	return res, nil
}

// readOnly runs stmt in a READ ONLY transaction that is always rolled back.
func (r *repoPG) readOnly(ctx context.Context, stmt string) (*QueryResult, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectResult(rows, MaxQueryRows)
}

func (r *repoPG) observe(op string, start time.Time) {
	r.metrics.RecordRepositoryQuery(op, time.Since(start))
}

func scanEncounter(row pgx.Row) (*Encounter, error) {
	var (
		e                        Encounter
		race, gender, age, readm pgtype.Text
		stay, meds, inpatient    pgtype.Int8
	)
	if err := row.Scan(&e.EncounterID, &race, &gender, &age, &stay, &meds, &inpatient, &readm); err != nil {
		return nil, err
	}
	e.Race = textPtr(race)
	e.Gender = textPtr(gender)
	e.Age = textPtr(age)
	e.TimeInHospital = intPtr(stay)
	e.NumMedications = intPtr(meds)
	e.NumberInpatient = intPtr(inpatient)
	e.Readmitted = textPtr(readm)
	return &e, nil
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

func intPtr(n pgtype.Int8) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func collectResult(rows pgx.Rows, maxRows int) (*QueryResult, error) {
	fields := rows.FieldDescriptions()
	res := &QueryResult{Columns: make([]string, len(fields)), Rows: [][]interface{}{}}
	for i, fd := range fields {
		res.Columns[i] = fd.Name
	}

	for rows.Next() {
		if len(res.Rows) == maxRows {
			res.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		res.Rows = append(res.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res.RowCount = len(res.Rows)
	return res, nil
}

// normalizeValue converts driver types without a natural JSON or cell form.
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	default:
		return v
	}
}
