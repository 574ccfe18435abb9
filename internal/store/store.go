// Package store is the Postgres-backed catalog and relation store. Constants
// are read-only to the engine; relations are append-only. The store's
// transaction mechanism is the only serialization point between parallel
// workers.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"os"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/quarrymath/quarry/internal/catalog"
	"github.com/quarrymath/quarry/internal/relation"
)

// Store wraps the Postgres connection pool. Each worker is expected to hold
// its own Store (its own *sql.DB) so no in-process state is shared.
type Store struct {
	DB *sql.DB
}

// New constructs the Store from DATABASE_URL or the POSTGRES_* environment.
func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close releases the underlying connection pool. Long-running callers must
// close every Store they open or idle Postgres connections accumulate.
func (s *Store) Close() error { return s.DB.Close() }

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// bigFloatPrec is the binary precision used when parsing stored decimals.
// Generous enough for any catalog precision the kernel can make use of.
const bigFloatPrec = 4096

// ConstantsByMinPrecision returns constants with at least minPrecision
// trustworthy digits, extensions loaded, ordered by const_id. When sample is
// positive, that many constants are drawn at random instead (discovery order
// is then nondeterministic across runs, which is accepted).
func (s *Store) ConstantsByMinPrecision(ctx context.Context, minPrecision, sample int) ([]catalog.Constant, error) {
	query := `
SELECT const_id, value::text, precision, time_added
FROM constants
WHERE value IS NOT NULL AND precision >= $1
ORDER BY const_id
`
	args := []interface{}{minPrecision}
	if sample > 0 {
		query = `
SELECT const_id, value::text, precision, time_added
FROM constants
WHERE value IS NOT NULL AND precision >= $1
ORDER BY random()
LIMIT $2
`
		args = append(args, sample)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query constants: %w", err)
	}
	defer rows.Close()

	var consts []catalog.Constant
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var c catalog.Constant
		var value sql.NullString
		if err := rows.Scan(&c.ID, &value, &c.Precision, &c.TimeAdded); err != nil {
			return nil, err
		}
		if value.Valid {
			c.Decimal = value.String
			v, _, perr := big.ParseFloat(value.String, 10, bigFloatPrec, big.ToNearestEven)
			if perr == nil {
				c.Value = v
			}
		}
		index[c.ID] = len(consts)
		consts = append(consts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadExtensions(ctx, consts, index); err != nil {
		return nil, err
	}
	return consts, nil
}

// loadExtensions attaches extension rows to the already-loaded constants.
// One query per extension table is faster than a per-constant join fan-out.
func (s *Store) loadExtensions(ctx context.Context, consts []catalog.Constant, index map[uuid.UUID]int) error {
	attach := func(id uuid.UUID, ext catalog.Extension) {
		if i, ok := index[id]; ok {
			consts[i].Exts = append(consts[i].Exts, ext)
		}
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT const_id, base FROM power_of_constants`)
	if err != nil {
		return fmt.Errorf("query power_of_constants: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		var base int64
		if err := rows.Scan(&id, &base); err != nil {
			rows.Close()
			return err
		}
		attach(id, catalog.Extension{Kind: catalog.KindPowerOf, Base: base})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.DB.QueryContext(ctx, `SELECT const_id, family FROM derived_constants`)
	if err != nil {
		return fmt.Errorf("query derived_constants: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		var family sql.NullString
		if err := rows.Scan(&id, &family); err != nil {
			rows.Close()
			return err
		}
		attach(id, catalog.Extension{Kind: catalog.KindDerived, Family: family.String})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.DB.QueryContext(ctx, `SELECT const_id, p, q, convergence FROM pcf_canonical_constants`)
	if err != nil {
		return fmt.Errorf("query pcf_canonical_constants: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		var p, q pq.Int64Array
		var convergence int
		if err := rows.Scan(&id, &p, &q, &convergence); err != nil {
			rows.Close()
			return err
		}
		attach(id, catalog.Extension{
			Kind:        catalog.KindPcfCanonical,
			P:           []int64(p),
			Q:           []int64(q),
			Convergence: catalog.Convergence(convergence),
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.DB.QueryContext(ctx, `SELECT const_id, name, description FROM named_constants`)
	if err != nil {
		return fmt.Errorf("query named_constants: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		var name string
		var description sql.NullString
		if err := rows.Scan(&id, &name, &description); err != nil {
			rows.Close()
			return err
		}
		attach(id, catalog.Extension{Kind: catalog.KindNamed, Name: name, Description: description.String})
	}
	rows.Close()
	return rows.Err()
}

// AllRelations loads every persisted relation with its constants in stored
// order. Queried in bulk: one pass over relations, one over the join table.
func (s *Store) AllRelations(ctx context.Context) ([]relation.Relation, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT relation_id, algorithm, precision, degree, rel_order, coefficients
FROM relations
ORDER BY relation_id
`)
	if err != nil {
		return nil, fmt.Errorf("query relations: %w", err)
	}
	defer rows.Close()

	var rels []relation.Relation
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var r relation.Relation
		var coeffs pq.Int64Array
		if err := rows.Scan(&r.ID, &r.Algorithm, &r.Precision, &r.Degree, &r.Order, &coeffs); err != nil {
			return nil, err
		}
		r.Coefficients = []int64(coeffs)
		index[r.ID] = len(rels)
		rels = append(rels, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	members, err := s.DB.QueryContext(ctx, `
SELECT relation_id, const_id
FROM constants_in_relations
ORDER BY relation_id, position
`)
	if err != nil {
		return nil, fmt.Errorf("query relation members: %w", err)
	}
	defer members.Close()
	for members.Next() {
		var relID, constID uuid.UUID
		if err := members.Scan(&relID, &constID); err != nil {
			return nil, err
		}
		if i, ok := index[relID]; ok {
			rels[i].ConstantIDs = append(rels[i].ConstantIDs, constID)
		}
	}
	return rels, members.Err()
}

// AppendRelations inserts the batch in a single transaction, preserving the
// constant ordering of each relation in the join table. On any failure the
// transaction is rolled back and nothing is persisted.
func (s *Store) AppendRelations(ctx context.Context, rels []relation.Relation) error {
	if len(rels) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, r := range rels {
		if err = r.Validate(); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `
INSERT INTO relations (relation_id, algorithm, precision, degree, rel_order, coefficients, time_added)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
`, r.ID, r.Algorithm, r.Precision, r.Degree, r.Order, pq.Array(r.Coefficients)); err != nil {
			return fmt.Errorf("insert relation %s: %w", r.ID, err)
		}
		for pos, constID := range r.ConstantIDs {
			if _, err = tx.ExecContext(ctx, `
INSERT INTO constants_in_relations (relation_id, const_id, position)
VALUES ($1,$2,$3)
`, r.ID, constID, pos); err != nil {
				return fmt.Errorf("insert relation member %s/%s: %w", r.ID, constID, err)
			}
		}
	}
	err = tx.Commit()
	return err
}
