package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/ehr/readmission/internal/platform/db"
	"github.com/ehr/readmission/internal/platform/metrics"
)

type repoPG struct {
	db              db.Querier
	timeout         time.Duration
	readmittedLabel string
	metrics         *metrics.Manager
}

// NewRepo returns a Repository over the patients table. readmittedLabel is
// the readmitted value meaning "within 30 days"; it is always bound as a
// query parameter.
func NewRepo(q db.Querier, timeout time.Duration, readmittedLabel string, m *metrics.Manager) Repository {
	return &repoPG{db: q, timeout: timeout, readmittedLabel: readmittedLabel, metrics: m}
}

// readmittedPct evaluates to the percentage of rows whose readmitted value
// equals $1. NULL labels count as not readmitted.
const readmittedPct = `AVG(CASE WHEN readmitted = $1 THEN 1.0 ELSE 0.0 END) * 100`

func (r *repoPG) Summary(ctx context.Context) (*Summary, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()
	defer r.observe("summary", time.Now())

	var s Summary
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
			COALESCE(`+readmittedPct+`, 0)::float8,
			COALESCE(AVG(time_in_hospital), 0)::float8,
			COALESCE(AVG(num_medications), 0)::float8
		FROM patients`, r.readmittedLabel).
		Scan(&s.TotalPatients, &s.ReadmissionRate, &s.AverageStay, &s.AverageMedications)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	return &s, nil
}

func (r *repoPG) TotalPatients(ctx context.Context) (int64, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()
	defer r.observe("total_patients", time.Now())

	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count patients: %w", err)
	}
	return n, nil
}

func (r *repoPG) ReadmissionRate(ctx context.Context) (float64, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()
	defer r.observe("readmission_rate", time.Now())

	var rate float64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(`+readmittedPct+`, 0)::float8 FROM patients`, r.readmittedLabel).Scan(&rate)
	if err != nil {
		return 0, fmt.Errorf("readmission rate: %w", err)
	}
	return rate, nil
}

func (r *repoPG) AverageStay(ctx context.Context) (float64, error) {
	return r.average(ctx, "average_stay", "time_in_hospital")
}

func (r *repoPG) AverageMedications(ctx context.Context) (float64, error) {
	return r.average(ctx, "average_medications", "num_medications")
}

// average is only called with the fixed column names above.
func (r *repoPG) average(ctx context.Context, op, column string) (float64, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()
	defer r.observe(op, time.Now())

	var avg float64
	if err := r.db.QueryRow(ctx, `SELECT COALESCE(AVG(`+column+`), 0)::float8 FROM patients`).Scan(&avg); err != nil {
		return 0, fmt.Errorf("average %s: %w", column, err)
	}
	return avg, nil
}

func (r *repoPG) ReadmissionByAge(ctx context.Context) ([]AgeGroupRate, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()
	defer r.observe("readmission_by_age", time.Now())

	// Qualified so ordering uses the stored column, not the COALESCE alias,
	// and the NULL bucket sorts last.
	rows, err := r.db.Query(ctx, `
		SELECT COALESCE(age, '`+UnknownLabel+`') AS age,
			(`+readmittedPct+`)::float8 AS readmit_rate,
			COUNT(*) AS count
		FROM patients
		GROUP BY patients.age
		ORDER BY patients.age ASC NULLS LAST`, r.readmittedLabel)
	if err != nil {
		return nil, fmt.Errorf("readmission by age: %w", err)
	}
	defer rows.Close()

	out := []AgeGroupRate{}
	for rows.Next() {
		var g AgeGroupRate
		if err := rows.Scan(&g.Age, &g.ReadmissionRate, &g.Count); err != nil {
			return nil, fmt.Errorf("scan age group: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("readmission by age: %w", err)
	}
	return out, nil
}

func (r *repoPG) GenderDistribution(ctx context.Context) ([]GenderCount, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()
	defer r.observe("gender_distribution", time.Now())

	rows, err := r.db.Query(ctx, `
		SELECT COALESCE(gender, '`+UnknownLabel+`') AS gender, COUNT(*) AS count
		FROM patients
		GROUP BY 1
		ORDER BY count DESC, gender ASC`)
	if err != nil {
		return nil, fmt.Errorf("gender distribution: %w", err)
	}
	defer rows.Close()

	out := []GenderCount{}
	for rows.Next() {
		var g GenderCount
		if err := rows.Scan(&g.Gender, &g.Count); err != nil {
			return nil, fmt.Errorf("scan gender count: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gender distribution: %w", err)
	}
	return out, nil
}

func (r *repoPG) StayVsMedications(ctx context.Context, limit int) ([]StayMedicationPoint, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()
	defer r.observe("stay_vs_medications", time.Now())

	rows, err := r.db.Query(ctx, `
		SELECT time_in_hospital, num_medications, COALESCE(readmitted = $1, false) AS readmitted
		FROM patients
		WHERE time_in_hospital <= $2 AND num_medications <= $3
		LIMIT $4`, r.readmittedLabel, MaxStayDays, MaxMedications, limit)
	if err != nil {
		return nil, fmt.Errorf("stay vs medications: %w", err)
	}
	defer rows.Close()

	out := []StayMedicationPoint{}
	for rows.Next() {
		var p StayMedicationPoint
		if err := rows.Scan(&p.TimeInHospital, &p.NumMedications, &p.Readmitted); err != nil {
			return nil, fmt.Errorf("scan stay point: %w", err)
		}
		p.Status = statusLabel(p.Readmitted)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stay vs medications: %w", err)
	}
	return out, nil
}

func (r *repoPG) observe(op string, start time.Time) {
	r.metrics.RecordRepositoryQuery("analytics_"+op, time.Since(start))
}
