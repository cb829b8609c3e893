package analytics

import "context"

// Repository runs the analytics aggregations against the patient store.
type Repository interface {
	Summary(ctx context.Context) (*Summary, error)
	TotalPatients(ctx context.Context) (int64, error)
	ReadmissionRate(ctx context.Context) (float64, error)
	AverageStay(ctx context.Context) (float64, error)
	AverageMedications(ctx context.Context) (float64, error)
	ReadmissionByAge(ctx context.Context) ([]AgeGroupRate, error)
	GenderDistribution(ctx context.Context) ([]GenderCount, error)
	StayVsMedications(ctx context.Context, limit int) ([]StayMedicationPoint, error)
}
