package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/quarrymath/quarry/internal/catalog"
	"github.com/quarrymath/quarry/internal/relation"
)

func TestConstantsByMinPrecision(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	constID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT const_id, value::text, precision, time_added
FROM constants
WHERE value IS NOT NULL AND precision >= $1
ORDER BY const_id
`)).
		WithArgs(25).
		WillReturnRows(sqlmock.NewRows([]string{"const_id", "value", "precision", "time_added"}).
			AddRow(constID.String(), "3.14159265358979", 50, now))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT const_id, base FROM power_of_constants`)).
		WillReturnRows(sqlmock.NewRows([]string{"const_id", "base"}))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT const_id, family FROM derived_constants`)).
		WillReturnRows(sqlmock.NewRows([]string{"const_id", "family"}))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT const_id, p, q, convergence FROM pcf_canonical_constants`)).
		WillReturnRows(sqlmock.NewRows([]string{"const_id", "p", "q", "convergence"}))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT const_id, name, description FROM named_constants`)).
		WillReturnRows(sqlmock.NewRows([]string{"const_id", "name", "description"}).
			AddRow(constID.String(), "pi", "circle constant"))

	consts, err := st.ConstantsByMinPrecision(context.Background(), 25, 0)
	if err != nil {
		t.Fatalf("ConstantsByMinPrecision: %v", err)
	}
	if len(consts) != 1 {
		t.Fatalf("expected 1 constant, got %d", len(consts))
	}
	c := consts[0]
	if c.ID != constID || c.Precision != 50 || c.Value == nil {
		t.Fatalf("unexpected constant: %+v", c)
	}
	ext, ok := c.Ext(catalog.KindNamed)
	if !ok || ext.Name != "pi" {
		t.Fatalf("named extension not attached: %+v", c.Exts)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAllRelations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	relID := uuid.New()
	c1, c2 := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT relation_id, algorithm, precision, degree, rel_order, coefficients
FROM relations
ORDER BY relation_id
`)).
		WillReturnRows(sqlmock.NewRows([]string{"relation_id", "algorithm", "precision", "degree", "rel_order", "coefficients"}).
			AddRow(relID.String(), relation.AlgorithmPolyPSLQ, 40, 1, 1, []byte(`{0,1,-2}`)))

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT relation_id, const_id
FROM constants_in_relations
ORDER BY relation_id, position
`)).
		WillReturnRows(sqlmock.NewRows([]string{"relation_id", "const_id"}).
			AddRow(relID.String(), c1.String()).
			AddRow(relID.String(), c2.String()))

	rels, err := st.AllRelations(context.Background())
	if err != nil {
		t.Fatalf("AllRelations: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("expected 1 relation, got %d", len(rels))
	}
	r := rels[0]
	if r.ID != relID || len(r.Coefficients) != 3 || len(r.ConstantIDs) != 2 {
		t.Fatalf("unexpected relation: %+v", r)
	}
	if r.ConstantIDs[0] != c1 || r.ConstantIDs[1] != c2 {
		t.Fatalf("constant order not preserved: %+v", r.ConstantIDs)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendRelationsCommits(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	r := relation.Relation{
		ID:           uuid.New(),
		Algorithm:    relation.AlgorithmPolyPSLQ,
		Precision:    40,
		Degree:       1,
		Order:        1,
		Coefficients: []int64{0, 1, -2}, // poly.Count(1,1,2) == 3
		ConstantIDs:  []uuid.UUID{uuid.New(), uuid.New()},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO relations (relation_id, algorithm, precision, degree, rel_order, coefficients, time_added)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
`)).
		WithArgs(r.ID, r.Algorithm, r.Precision, r.Degree, r.Order, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for pos, id := range r.ConstantIDs {
		mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO constants_in_relations (relation_id, const_id, position)
VALUES ($1,$2,$3)
`)).
			WithArgs(r.ID, id, pos).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	if err := st.AppendRelations(context.Background(), []relation.Relation{r}); err != nil {
		t.Fatalf("AppendRelations: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendRelationsRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	r := relation.Relation{
		ID:           uuid.New(),
		Algorithm:    relation.AlgorithmPolyPSLQ,
		Precision:    40,
		Degree:       1,
		Order:        1,
		Coefficients: []int64{0, 1, -2},
		ConstantIDs:  []uuid.UUID{uuid.New(), uuid.New()},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO relations (relation_id, algorithm, precision, degree, rel_order, coefficients, time_added)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
`)).
		WillReturnError(errLocked{})
	mock.ExpectRollback()

	if err := st.AppendRelations(context.Background(), []relation.Relation{r}); err == nil {
		t.Fatal("expected insert failure to surface")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

type errLocked struct{}

func (errLocked) Error() string { return "could not obtain lock" }
