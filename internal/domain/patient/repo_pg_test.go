package patient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var encounterColumns = []string{
	"encounter_id", "race", "gender", "age",
	"time_in_hospital", "num_medications", "number_inpatient", "readmitted",
}

func newPgxRepo(t *testing.T) (pgxmock.PgxPoolIface, Repository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewRepo(mock, time.Second, nil)
}

func TestRepo_Sample(t *testing.T) {
	mock, repo := newPgxRepo(t)

	rows := mock.NewRows(encounterColumns).
		AddRow(int64(2278392), "Caucasian", "Female", "[0-10)", int64(1), int64(1), int64(0), "NO").
		AddRow(int64(149190), "Caucasian", "Female", "[10-20)", int64(3), int64(18), int64(0), ">30")
	mock.ExpectQuery(`SELECT encounter_id, .* FROM patients LIMIT \$1`).
		WithArgs(10).
		WillReturnRows(rows)

	encs, err := repo.Sample(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, encs, 2)
	assert.Equal(t, int64(2278392), encs[0].EncounterID)
	assert.Equal(t, "[10-20)", *encs[1].Age)
	assert.Equal(t, 18, *encs[1].NumMedications)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_Sample_Empty(t *testing.T) {
	mock, repo := newPgxRepo(t)

	mock.ExpectQuery(`FROM patients LIMIT \$1`).
		WithArgs(5).
		WillReturnRows(mock.NewRows(encounterColumns))

	encs, err := repo.Sample(context.Background(), 5)
	require.NoError(t, err)
	assert.NotNil(t, encs)
	assert.Empty(t, encs)
}

func TestRepo_FindByID(t *testing.T) {
	mock, repo := newPgxRepo(t)

	mock.ExpectQuery(`FROM patients WHERE encounter_id = \$1`).
		WithArgs(int64(2278392)).
		WillReturnRows(mock.NewRows(encounterColumns).
			AddRow(int64(2278392), "Caucasian", "Female", "[0-10)", int64(3), int64(15), int64(0), "NO"))

	enc, err := repo.FindByID(context.Background(), 2278392)
	require.NoError(t, err)
	assert.Equal(t, int64(2278392), enc.EncounterID)
	assert.Equal(t, 3, *enc.TimeInHospital)
	assert.Equal(t, 15, *enc.NumMedications)
	assert.Equal(t, 0, *enc.NumberInpatient)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_FindByID_NullColumns(t *testing.T) {
	mock, repo := newPgxRepo(t)

	mock.ExpectQuery(`FROM patients WHERE encounter_id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(mock.NewRows(encounterColumns).
			AddRow(int64(42), nil, "Male", nil, int64(4), nil, nil, nil))

	enc, err := repo.FindByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, enc.Race)
	assert.Nil(t, enc.Age)
	assert.Nil(t, enc.NumMedications)
	assert.Nil(t, enc.NumberInpatient)
	require.NotNil(t, enc.TimeInHospital)
	assert.Equal(t, 4, *enc.TimeInHospital)
}

func TestRepo_FindByID_NotFound(t *testing.T) {
	mock, repo := newPgxRepo(t)

	mock.ExpectQuery(`FROM patients WHERE encounter_id = \$1`).
		WithArgs(int64(999)).
		WillReturnError(pgx.ErrNoRows)

	enc, err := repo.FindByID(context.Background(), 999)
	assert.Nil(t, enc)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepo_FindByID_DatabaseError(t *testing.T) {
	mock, repo := newPgxRepo(t)

	mock.ExpectQuery(`FROM patients WHERE encounter_id = \$1`).
		WithArgs(int64(7)).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.FindByID(context.Background(), 7)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRepo_Query_ReadOnlyAndRolledBack(t *testing.T) {
	mock, repo := newPgxRepo(t)

	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadOnly})
	mock.ExpectQuery(`SELECT gender, COUNT\(\*\) AS count FROM patients GROUP BY gender`).
		WillReturnRows(mock.NewRows([]string{"gender", "count"}).
			AddRow("Female", int64(3)).
			AddRow("Male", int64(2)))
	mock.ExpectRollback()

	res, err := repo.Query(context.Background(), "SELECT gender, COUNT(*) AS count FROM patients GROUP BY gender;")
	require.NoError(t, err)
	assert.Equal(t, []string{"gender", "count"}, res.Columns)
	assert.Equal(t, 2, res.RowCount)
	assert.False(t, res.Truncated)
	assert.Equal(t, "Female", res.RowMaps()[0]["gender"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_Query_RejectedWithoutDatabase(t *testing.T) {
	mock, repo := newPgxRepo(t)

	_, err := repo.Query(context.Background(), "DELETE FROM patients")
	assert.ErrorIs(t, err, ErrQuery)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_Query_DatabaseErrorIsQueryError(t *testing.T) {
	mock, repo := newPgxRepo(t)

	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadOnly})
	mock.ExpectQuery(`SELECT nope FROM patients`).
		WillReturnError(errors.New(`column "nope" does not exist`))
	mock.ExpectRollback()

	_, err := repo.Query(context.Background(), "SELECT nope FROM patients")
	assert.ErrorIs(t, err, ErrQuery)
	assert.Contains(t, err.Error(), "does not exist")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_RunNamed(t *testing.T) {
	mock, repo := newPgxRepo(t)

	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadOnly})
	mock.ExpectQuery(`SELECT age, gender, COUNT\(\*\) AS count FROM patients GROUP BY age, gender`).
		WillReturnRows(mock.NewRows([]string{"age", "gender", "count"}).
			AddRow("[70-80)", "Female", int64(12)))
	mock.ExpectRollback()

	res, err := repo.RunNamed(context.Background(), DefaultQueryID)
	require.NoError(t, err)
	assert.Equal(t, []string{"age", "gender", "count"}, res.Columns)
	assert.Equal(t, [][]interface{}{{"[70-80)", "Female", int64(12)}}, res.Rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_RunNamed_Unknown(t *testing.T) {
	mock, repo := newPgxRepo(t)

	_, err := repo.RunNamed(context.Background(), "drop-everything")
	assert.ErrorIs(t, err, ErrUnknownQuery)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectResult_Truncates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT n`).
		WillReturnRows(mock.NewRows([]string{"n"}).
			AddRow(int64(1)).
			AddRow(int64(2)).
			AddRow(int64(3)))

	rows, err := mock.Query(context.Background(), "SELECT n")
	require.NoError(t, err)
	defer rows.Close()

	res, err := collectResult(rows, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowCount)
	assert.True(t, res.Truncated)
}

func TestNamedQueries_PassGuard(t *testing.T) {
	seen := map[string]bool{}
	for _, q := range NamedQueries {
		assert.False(t, seen[q.ID], "duplicate query id %s", q.ID)
		seen[q.ID] = true
		_, err := ValidateStatement(q.SQL)
		assert.NoError(t, err, "query %s", q.ID)
	}
	assert.NotNil(t, FindNamedQuery(DefaultQueryID))
	assert.Nil(t, FindNamedQuery("missing"))
}
