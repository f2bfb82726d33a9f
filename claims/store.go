// Package claims provides the SQLite-backed claim store and the default
// adjudicator the claimbatch binary wires into the engine. Library embedders
// supply their own batch.ClaimStore / batch.Adjudicator implementations; this
// package exists so the daemon runs end to end out of the box.
package claims

import (
	"context"
	"database/sql"
	"time"

	"github.com/meridianbenefits/claimbatch/batch"
	"github.com/meridianbenefits/claimbatch/errors"
)

// Store reads and writes claims in SQLite. Satisfies batch.ClaimStore.
type Store struct {
	db *sql.DB
}

// NewStore creates a claim store over an open, migrated database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns one claim by id, or a not-found error
func (s *Store) Get(ctx context.Context, id string) (*batch.Claim, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, amount, fraud_risk, status, member_id, institution_id, service_date
		FROM claims WHERE id = ?`, id)

	c, err := scanClaim(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("claim %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load claim %s", id)
	}
	return c, nil
}

// Query returns claims matching the filter. Zero-valued filter fields are
// ignored.
func (s *Store) Query(ctx context.Context, f batch.ClaimFilter) ([]*batch.Claim, error) {
	query := `
		SELECT id, amount, fraud_risk, status, member_id, institution_id, service_date
		FROM claims WHERE 1=1`
	args := []interface{}{}

	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.MinAmount != nil {
		query += " AND amount >= ?"
		args = append(args, *f.MinAmount)
	}
	if f.MaxAmount != nil {
		query += " AND amount <= ?"
		args = append(args, *f.MaxAmount)
	}
	if f.From != nil {
		query += " AND service_date >= ?"
		args = append(args, *f.From)
	}
	if f.To != nil {
		query += " AND service_date <= ?"
		args = append(args, *f.To)
	}
	if f.MemberID != "" {
		query += " AND member_id = ?"
		args = append(args, f.MemberID)
	}
	if f.InstitutionID != "" {
		query += " AND institution_id = ?"
		args = append(args, f.InstitutionID)
	}
	query += " ORDER BY service_date, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query claims")
	}
	defer rows.Close()

	var out []*batch.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan claim")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Put inserts or replaces a claim
func (s *Store) Put(ctx context.Context, c *batch.Claim) error {
	if c.ID == "" {
		return errors.New("claim id is required")
	}
	fraudRisk := c.FraudRisk
	if fraudRisk == "" {
		fraudRisk = "none"
	}
	status := c.Status
	if status == "" {
		status = "submitted"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO claims (
			id, amount, fraud_risk, status, member_id, institution_id,
			service_date, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		c.ID, c.Amount, fraudRisk, status, c.MemberID, c.InstitutionID, c.ServiceDate)
	if err != nil {
		return errors.Wrapf(err, "failed to store claim %s", c.ID)
	}
	return nil
}

// SetStatus records an adjudication outcome as a claim status transition
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE claims SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, id)
	if err != nil {
		return errors.Wrapf(err, "failed to update status of claim %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to count updated claims")
	}
	if n == 0 {
		return errors.NewNotFoundError("claim %s", id)
	}
	return nil
}

// Count returns claim counts grouped by status
func (s *Store) Count(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM claims GROUP BY status")
	if err != nil {
		return nil, errors.Wrap(err, "failed to count claims")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan claim count")
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanClaim(row scannable) (*batch.Claim, error) {
	var c batch.Claim
	var memberID, institutionID sql.NullString
	var serviceDate time.Time

	err := row.Scan(&c.ID, &c.Amount, &c.FraudRisk, &c.Status, &memberID, &institutionID, &serviceDate)
	if err != nil {
		return nil, err
	}
	c.MemberID = memberID.String
	c.InstitutionID = institutionID.String
	c.ServiceDate = serviceDate
	return &c, nil
}
