package patient

// Encounter is one row of the patients table: a single hospital admission.
// Every column other than the key is nullable in storage.
type Encounter struct {
	EncounterID     int64   `json:"encounter_id"`
	Race            *string `json:"race"`
	Gender          *string `json:"gender"`
	Age             *string `json:"age"`
	TimeInHospital  *int    `json:"time_in_hospital"`
	NumMedications  *int    `json:"num_medications"`
	NumberInpatient *int    `json:"number_inpatient"`
	Readmitted      *string `json:"readmitted"`
}

// Details is the subset of an encounter shown next to a lookup prediction.
type Details struct {
	EncounterID    int64   `json:"encounter_id"`
	Race           *string `json:"race"`
	Gender         *string `json:"gender"`
	Age            *string `json:"age"`
	TimeInHospital *int    `json:"time_in_hospital"`
	NumMedications *int    `json:"num_medications"`
}

func (e *Encounter) Details() Details {
	return Details{
		EncounterID:    e.EncounterID,
		Race:           e.Race,
		Gender:         e.Gender,
		Age:            e.Age,
		TimeInHospital: e.TimeInHospital,
		NumMedications: e.NumMedications,
	}
}

// QueryResult is a tabular result with column order preserved.
type QueryResult struct {
	Columns   []string        `json:"columns"`
	Rows      [][]interface{} `json:"rows"`
	RowCount  int             `json:"row_count"`
	Truncated bool            `json:"truncated"`
}

// RowMaps returns each row keyed by column name.
func (r *QueryResult) RowMaps() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(r.Rows))
	for _, row := range r.Rows {
		m := make(map[string]interface{}, len(r.Columns))
		for i, col := range r.Columns {
			if i < len(row) {
				m[col] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}
