package storage

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/teranos/reqsync/db"
	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/requisition"
)

// selectColumns is the column order every SELECT uses; see scanTargets.
const selectColumns = `id, title, client, slots, status, assigned_recruiters, working_times, created_at, updated_at, version`

// timeValue scans a timestamp stored as TIMESTAMPTZ (Postgres) or as
// RFC3339Nano text (SQLite).
type timeValue struct {
	t *time.Time
}

func (tv timeValue) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		*tv.t = v.UTC()
		return nil
	case string:
		return tv.parse(v)
	case []byte:
		return tv.parse(string(v))
	case nil:
		*tv.t = time.Time{}
		return nil
	default:
		return errors.Newf("cannot scan %T into timestamp", src)
	}
}

func (tv timeValue) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return errors.Wrapf(err, "parse timestamp %q", s)
	}
	*tv.t = parsed.UTC()
	return nil
}

// jsonValue scans a JSON document stored as JSONB or TEXT into dst.
type jsonValue struct {
	dst interface{}
}

func (jv jsonValue) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case nil:
		return nil
	default:
		return errors.Newf("cannot scan %T into json", src)
	}
	return json.Unmarshal(raw, jv.dst)
}

// scanArgs holds the intermediate values for one row
type scanArgs struct {
	status  string
	version int64
}

func scanTargets(rec *requisition.Record, args *scanArgs) []interface{} {
	return []interface{}{
		&rec.ID,
		&rec.Title,
		&rec.Client,
		&rec.Slots,
		&args.status,
		jsonValue{&rec.AssignedRecruiters},
		jsonValue{&rec.WorkingTimes},
		timeValue{&rec.CreatedAt},
		timeValue{&rec.UpdatedAt},
		&args.version,
	}
}

// finishScan validates what came off the row. Unknown statuses are a
// corrupted row, not a client error.
func finishScan(rec *requisition.Record, args *scanArgs) error {
	st := requisition.Status(args.status)
	if !st.Valid() {
		return errors.Newf("requisition %s has unknown status %q", rec.ID, args.status)
	}
	rec.Status = st
	rec.Version = uint64(args.version)
	if rec.AssignedRecruiters == nil {
		rec.AssignedRecruiters = []string{}
	}
	if rec.WorkingTimes == nil {
		rec.WorkingTimes = map[string]time.Time{}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRow scans one row in selectColumns order. sql.ErrNoRows passes
// through unwrapped.
func scanRow(row rowScanner) (*requisition.Record, error) {
	rec := &requisition.Record{}
	var args scanArgs
	if err := row.Scan(scanTargets(rec, &args)...); err != nil {
		return nil, err
	}
	if err := finishScan(rec, &args); err != nil {
		return nil, err
	}
	return rec, nil
}

// timeArg formats t for the dialect's timestamp column
func timeArg(dialect db.Dialect, t time.Time) driver.Value {
	if dialect == db.DialectPostgres {
		return t.UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func recruitersArg(rec *requisition.Record) (string, error) {
	names := rec.AssignedRecruiters
	if names == nil {
		names = []string{}
	}
	b, err := json.Marshal(names)
	if err != nil {
		return "", errors.Wrap(err, "marshal assigned recruiters")
	}
	return string(b), nil
}

func workingTimesArg(rec *requisition.Record) (string, error) {
	times := make(map[string]string, len(rec.WorkingTimes))
	for name, at := range rec.WorkingTimes {
		times[name] = at.UTC().Format(time.RFC3339Nano)
	}
	b, err := json.Marshal(times)
	if err != nil {
		return "", errors.Wrap(err, "marshal working times")
	}
	return string(b), nil
}
