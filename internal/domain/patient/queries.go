package patient

// NamedQuery is a fixed, parameterless aggregation over the patients table.
type NamedQuery struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SQL         string `json:"sql"`
}

// DefaultQueryID is the query the data explorer opens with.
const DefaultQueryID = "age-gender-counts"

// NamedQueries is the allow-list of aggregations the data explorer may run.
var NamedQueries = []NamedQuery{
	{
		ID:          "age-gender-counts",
		Name:        "Encounters by Age and Gender",
		Description: "Encounter counts grouped by age bucket and gender",
		SQL:         `SELECT age, gender, COUNT(*) AS count FROM patients GROUP BY age, gender ORDER BY age, gender LIMIT 10`,
	},
	{
		ID:          "readmitted-breakdown",
		Name:        "Readmission Outcomes",
		Description: "Encounter counts per readmission label",
		SQL:         `SELECT COALESCE(readmitted, 'Unknown') AS readmitted, COUNT(*) AS count FROM patients GROUP BY 1 ORDER BY count DESC`,
	},
	{
		ID:          "race-counts",
		Name:        "Encounters by Race",
		Description: "Encounter counts grouped by race",
		SQL:         `SELECT COALESCE(race, 'Unknown') AS race, COUNT(*) AS count FROM patients GROUP BY 1 ORDER BY count DESC`,
	},
	{
		ID:          "stay-length-distribution",
		Name:        "Length of Stay Distribution",
		Description: "Encounter counts and average medications per day of stay",
		SQL: `SELECT time_in_hospital, COUNT(*) AS count, ROUND(AVG(num_medications)::numeric, 2) AS avg_medications
			FROM patients WHERE time_in_hospital IS NOT NULL GROUP BY time_in_hospital ORDER BY time_in_hospital`,
	},
	{
		ID:          "prior-inpatient-visits",
		Name:        "Prior Inpatient Visits",
		Description: "Encounter counts grouped by number of prior inpatient visits",
		SQL:         `SELECT COALESCE(number_inpatient, 0) AS number_inpatient, COUNT(*) AS count FROM patients GROUP BY 1 ORDER BY 1`,
	},
}

// FindNamedQuery looks up a query by id, returning nil when absent.
func FindNamedQuery(id string) *NamedQuery {
	for i := range NamedQueries {
		if NamedQueries[i].ID == id {
			return &NamedQueries[i]
		}
	}
	return nil
}
