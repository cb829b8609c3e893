// Package analytics computes the fixed readmission statistics shown on the
// analytics dashboard. Every call is all-or-nothing.
package analytics

// Summary holds the dashboard header metrics.
type Summary struct {
	TotalPatients      int64   `json:"total_patients"`
	ReadmissionRate    float64 `json:"readmission_rate"`
	AverageStay        float64 `json:"average_stay"`
	AverageMedications float64 `json:"average_medications"`
}

// AgeGroupRate is the 30-day readmission rate (percent) of one age bucket.
type AgeGroupRate struct {
	Age             string  `json:"age"`
	ReadmissionRate float64 `json:"readmission_rate"`
	Count           int64   `json:"count"`
}

// GenderCount is the number of encounters for one gender value.
type GenderCount struct {
	Gender string `json:"gender"`
	Count  int64  `json:"count"`
}

// Readmission status labels used by the stay vs medications chart.
const (
	StatusReadmitted    = "Readmitted"
	StatusNotReadmitted = "Not Readmitted"
)

// StayMedicationPoint is one encounter plotted by length of stay against
// medication count.
type StayMedicationPoint struct {
	TimeInHospital int    `json:"time_in_hospital"`
	NumMedications int    `json:"num_medications"`
	Readmitted     bool   `json:"readmitted"`
	Status         string `json:"status"`
}

// Bounds of the stay vs medications sample.
const (
	MaxStayDays        = 14
	MaxMedications     = 50
	DefaultSampleLimit = 500
	MaxSampleLimit     = 5000
)

// UnknownLabel replaces NULL group keys.
const UnknownLabel = "Unknown"

func statusLabel(readmitted bool) string {
	if readmitted {
		return StatusReadmitted
	}
	return StatusNotReadmitted
}
