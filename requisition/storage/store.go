// Package storage persists requisitions to SQLite or Postgres.
package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/teranos/reqsync/db"
	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/requisition"
)

// Change is one record write within an Apply transaction. Record carries
// the new state; PrevVersion is the version the caller read, and the write
// fails if the row has moved on.
type Change struct {
	Record      *requisition.Record
	PrevVersion uint64
	Columns     requisition.Column
}

// SQLStore is the durable side of the record store. Every write returns the
// row as stored.
type SQLStore struct {
	db      *sql.DB
	dialect db.Dialect
}

// NewSQLStore creates a requisition store on an already-migrated database
func NewSQLStore(conn *sql.DB, dialect db.Dialect) *SQLStore {
	return &SQLStore{db: conn, dialect: dialect}
}

// persistence marks err so callers can branch on ErrPersistence while the
// driver error stays in the chain.
func persistence(err error, msg string, args ...interface{}) error {
	marked := errors.Mark(errors.Wrapf(err, msg, args...), errors.ErrPersistence)
	switch {
	case db.IsTimeout(err):
		return errors.WithHint(marked, "the database did not answer within coordination.persist_timeout_ms")
	case db.IsDatabaseClosed(err):
		return errors.WithHint(marked, "the server is shutting down")
	}
	return marked
}

// LoadAll returns every stored requisition ordered by id
func (s *SQLStore) LoadAll(ctx context.Context) ([]*requisition.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM requisitions ORDER BY id`)
	if err != nil {
		return nil, persistence(err, "load requisitions")
	}
	defer rows.Close()

	var records []*requisition.Record
	for rows.Next() {
		rec, err := scanRow(rows)
		if err != nil {
			return nil, persistence(err, "scan requisition")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence(err, "iterate requisitions")
	}
	return records, nil
}

// Get reads one requisition
func (s *SQLStore) Get(ctx context.Context, id string) (*requisition.Record, error) {
	rec, err := scanRow(s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM requisitions WHERE id = `+s.dialect.Placeholder(1), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "requisition %s", id)
	}
	if err != nil {
		return nil, persistence(err, "get requisition %s", id)
	}
	return rec, nil
}

// Insert stores a new requisition. A primary key conflict is ErrDuplicateID.
func (s *SQLStore) Insert(ctx context.Context, rec *requisition.Record) (*requisition.Record, error) {
	recruiters, err := recruitersArg(rec)
	if err != nil {
		return nil, err
	}
	times, err := workingTimesArg(rec)
	if err != nil {
		return nil, err
	}

	p := s.dialect.Placeholder
	query := `INSERT INTO requisitions (` + selectColumns + `) VALUES (` +
		strings.Join([]string{p(1), p(2), p(3), p(4), p(5), p(6), p(7), p(8), p(9), p(10)}, ", ") +
		`) RETURNING ` + selectColumns

	stored, err := scanRow(s.db.QueryRowContext(ctx, query,
		rec.ID,
		rec.Title,
		rec.Client,
		rec.Slots,
		string(rec.Status),
		recruiters,
		times,
		timeArg(s.dialect, rec.CreatedAt),
		timeArg(s.dialect, rec.UpdatedAt),
		int64(rec.Version),
	))
	if db.IsUniqueViolation(err) {
		return nil, errors.Wrapf(errors.ErrDuplicateID, "requisition %s already exists", rec.ID)
	}
	if err != nil {
		return nil, persistence(err, "insert requisition %s", rec.ID)
	}
	return stored, nil
}

// Apply writes every change in one transaction; either all rows move to
// their new version or none do. The stored rows are returned in change order.
func (s *SQLStore) Apply(ctx context.Context, changes ...Change) (stored []*requisition.Record, err error) {
	if len(changes) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stored = make([]*requisition.Record, 0, len(changes))
	for _, change := range changes {
		rec, uerr := s.update(ctx, tx, change)
		if uerr != nil {
			err = uerr
			return nil, err
		}
		stored = append(stored, rec)
	}

	if err = tx.Commit(); err != nil {
		return nil, persistence(err, "commit transaction")
	}
	return stored, nil
}

func (s *SQLStore) update(ctx context.Context, tx *sql.Tx, change Change) (*requisition.Record, error) {
	rec := change.Record
	var (
		sets []string
		args []interface{}
	)
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, column+" = "+s.dialect.Placeholder(len(args)))
	}

	if change.Columns&requisition.ColTitle != 0 {
		add("title", rec.Title)
	}
	if change.Columns&requisition.ColClient != 0 {
		add("client", rec.Client)
	}
	if change.Columns&requisition.ColSlots != 0 {
		add("slots", rec.Slots)
	}
	if change.Columns&requisition.ColStatus != 0 {
		add("status", string(rec.Status))
	}
	if change.Columns&requisition.ColAssignment != 0 {
		recruiters, err := recruitersArg(rec)
		if err != nil {
			return nil, err
		}
		times, err := workingTimesArg(rec)
		if err != nil {
			return nil, err
		}
		add("assigned_recruiters", recruiters)
		add("working_times", times)
	}
	add("updated_at", timeArg(s.dialect, rec.UpdatedAt))
	add("version", int64(rec.Version))

	args = append(args, rec.ID, int64(change.PrevVersion))
	query := `UPDATE requisitions SET ` + strings.Join(sets, ", ") +
		` WHERE id = ` + s.dialect.Placeholder(len(args)-1) +
		` AND version = ` + s.dialect.Placeholder(len(args)) +
		` RETURNING ` + selectColumns

	stored, err := scanRow(tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrPersistence,
			"requisition %s is no longer at version %d", rec.ID, change.PrevVersion)
	}
	if err != nil {
		return nil, persistence(err, "update requisition %s", rec.ID)
	}
	return stored, nil
}

// Delete removes a requisition. A missing row is ErrNotFound.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM requisitions WHERE id = `+s.dialect.Placeholder(1), id)
	if err != nil {
		return persistence(err, "delete requisition %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistence(err, "delete requisition %s", id)
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "requisition %s", id)
	}
	return nil
}

// StatusCount is one row of CountByStatus
type StatusCount struct {
	Status requisition.Status `json:"status"`
	Count  int                `json:"count"`
	Worked int                `json:"worked"` // records with at least one recruiter
}

// CountByStatus summarizes stored requisitions for `reqsync db stats`
func (s *SQLStore) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*),
		       SUM(CASE WHEN assigned_recruiters <> `+s.emptyRecruiters()+` THEN 1 ELSE 0 END)
		FROM requisitions
		GROUP BY status
		ORDER BY status`)
	if err != nil {
		return nil, persistence(err, "count requisitions")
	}
	defer rows.Close()

	var counts []StatusCount
	for rows.Next() {
		var (
			c      StatusCount
			status string
		)
		if err := rows.Scan(&status, &c.Count, &c.Worked); err != nil {
			return nil, persistence(err, "scan status count")
		}
		c.Status = requisition.Status(status)
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence(err, "iterate status counts")
	}
	return counts, nil
}

func (s *SQLStore) emptyRecruiters() string {
	if s.dialect == db.DialectPostgres {
		return `'[]'::jsonb`
	}
	return `'[]'`
}
