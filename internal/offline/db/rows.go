package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	sq "github.com/Masterminds/squirrel"

	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

// Mutation is one row change to persist. A nil Record deletes the row.
type Mutation struct {
	Table  string
	Key    string
	Record schema.Record
}

// IsDelete reports whether the mutation removes its row.
func (m Mutation) IsDelete() bool { return m.Record == nil }

// primaryKey returns the key column of table.
func primaryKey(table string) (string, error) {
	switch table {
	case schema.TableProfiles, schema.TableDailyLogs, schema.TableCycles, schema.TableQueue:
		return "id", nil
	case schema.TableSettings:
		return "key", nil
	case schema.TableAliases:
		return "temp_id", nil
	}
	return "", fmt.Errorf("unknown table %q", table)
}

// Put upserts a single row.
func (db *DB) Put(ctx context.Context, rec schema.Record) error {
	return db.Apply(ctx, []Mutation{{Table: rec.TableName(), Key: rec.RecordKey(), Record: rec}})
}

// Delete removes a single row. Deleting a missing row is not an error.
func (db *DB) Delete(ctx context.Context, table, key string) error {
	return db.Apply(ctx, []Mutation{{Table: table, Key: key}})
}

// uniqueKeys lists, per table, the column that must stay unique besides the
// primary key. Rows holding a value an upsert needs are parked under
// parkedPrefix until the batch settles.
var uniqueKeys = map[string]string{
	schema.TableProfiles:  "user_id",
	schema.TableDailyLogs: "date",
}

const parkedPrefix = "~parked:"

// Apply persists muts in one transaction. Deletes run before upserts so a
// row rekeyed within the batch never trips a uniqueness constraint, and rows
// whose natural key moves to another id within the batch are parked first so
// upsert order does not matter. A row left parked once every upsert has run
// is a genuine conflict and fails the batch.
func (db *DB) Apply(ctx context.Context, muts []Mutation) error {
	if len(muts) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range muts {
		if !m.IsDelete() {
			continue
		}
		if err := db.deleteRow(ctx, tx, m.Table, m.Key); err != nil {
			return err
		}
	}
	parked := map[string]bool{}
	for _, m := range muts {
		if m.IsDelete() {
			continue
		}
		ok, err := db.parkDisplaced(ctx, tx, m.Record)
		if err != nil {
			return err
		}
		if ok {
			parked[m.Table] = true
		}
	}
	for _, m := range muts {
		if m.IsDelete() {
			continue
		}
		if err := db.upsertRow(ctx, tx, m.Record); err != nil {
			return err
		}
	}
	for table := range parked {
		if err := db.checkParked(ctx, tx, table); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (db *DB) deleteRow(ctx context.Context, tx *sql.Tx, table, key string) error {
	pk, err := primaryKey(table)
	if err != nil {
		return err
	}
	var keyArg any = key
	if table == schema.TableQueue {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid queue key %q: %w", key, err)
		}
		keyArg = id
	}

	query, args, err := db.sb.Delete(table).Where(sq.Eq{pk: keyArg}).ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", table, key, err)
	}
	return nil
}

// parkDisplaced moves aside any other row of the same user holding the
// unique value rec is about to take. It reports whether a row was moved.
func (db *DB) parkDisplaced(ctx context.Context, tx *sql.Tx, rec schema.Record) (bool, error) {
	var where sq.Eq
	switch r := rec.(type) {
	case *schema.Profile:
		where = sq.Eq{"user_id": r.UserID}
	case *schema.DailyLog:
		where = sq.Eq{"user_id": r.UserID, "date": string(r.Date)}
	default:
		return false, nil
	}
	table := rec.TableName()
	col := uniqueKeys[table]

	query, args, err := db.sb.Update(table).
		Set(col, sq.Expr("? || id", parkedPrefix)).
		Where(where).
		Where(sq.NotEq{"id": rec.RecordKey()}).
		ToSql()
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to park %s rows displaced by %s: %w", table, rec.RecordKey(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// checkParked fails if any row of table is still parked, meaning two rows
// of the batch's end state share a unique value.
func (db *DB) checkParked(ctx context.Context, tx *sql.Tx, table string) error {
	col := uniqueKeys[table]
	query, args, err := db.sb.Select("id").From(table).
		Where(sq.Like{col: parkedPrefix + "%"}).
		Limit(1).
		ToSql()
	if err != nil {
		return err
	}
	var id string
	switch err := tx.QueryRowContext(ctx, query, args...).Scan(&id); {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("failed to check %s: %w", table, err)
	}
	return fmt.Errorf("%s/%s: UNIQUE constraint failed: %s.%s", table, id, table, col)
}

func (db *DB) upsertRow(ctx context.Context, tx *sql.Tx, rec schema.Record) error {
	cols, vals, err := rowValues(rec)
	if err != nil {
		return err
	}
	pk, err := primaryKey(rec.TableName())
	if err != nil {
		return err
	}

	set := ""
	for _, c := range cols {
		if c == pk {
			continue
		}
		if set != "" {
			set += ", "
		}
		set += c + " = excluded." + c
	}

	query, args, err := db.sb.Insert(rec.TableName()).
		Columns(cols...).
		Values(vals...).
		Suffix(fmt.Sprintf("ON CONFLICT(%s) DO UPDATE SET %s", pk, set)).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", rec.TableName(), rec.RecordKey(), err)
	}
	return nil
}

// rowValues maps a record onto its table's columns.
func rowValues(rec schema.Record) ([]string, []any, error) {
	switch r := rec.(type) {
	case *schema.Profile:
		return []string{
				"id", "user_id", "name", "birth_date", "cycle_type", "average_cycle_length",
				"cycle_range_min", "cycle_range_max", "period_length", "has_pcos", "pcos_symptoms",
				"pcos_treatment", "contraceptive_method", "wants_pregnancy", "synced", "updated_at",
			}, []any{
				r.ID, r.UserID, r.Name, nullDate(r.BirthDate), string(r.CycleType), nullInt(r.AverageCycleLength),
				nullInt(r.CycleRangeMin), nullInt(r.CycleRangeMax), r.PeriodLength, r.HasPCOS, r.PCOSSymptoms,
				r.PCOSTreatment, string(r.ContraceptiveMethod), r.WantsPregnancy, r.Synced, schema.FormatTimestamp(r.UpdatedAt),
			}, nil
	case *schema.DailyLog:
		return []string{
				"id", "user_id", "date", "symptoms", "flow", "mood", "notes", "synced", "updated_at",
			}, []any{
				r.ID, r.UserID, string(r.Date), r.Symptoms, string(r.Flow), r.Mood, r.Notes, r.Synced,
				schema.FormatTimestamp(r.UpdatedAt),
			}, nil
	case *schema.Cycle:
		return []string{
				"id", "user_id", "start_date", "end_date", "delay", "synced", "updated_at",
			}, []any{
				r.ID, r.UserID, string(r.StartDate), nullDate(r.EndDate), r.Delay, r.Synced,
				schema.FormatTimestamp(r.UpdatedAt),
			}, nil
	case *schema.QueueEntry:
		var data any
		if r.Data != nil {
			data = string(r.Data)
		}
		return []string{
				"id", "table_name", "record_id", "operation", "data", "created_at",
			}, []any{
				r.ID, r.Table, r.RecordID, string(r.Operation), data, schema.FormatTimestamp(r.CreatedAt),
			}, nil
	case *schema.Setting:
		return []string{"key", "value", "updated_at"},
			[]any{r.Key, r.Value, schema.FormatTimestamp(r.UpdatedAt)}, nil
	case *schema.IDAlias:
		return []string{"temp_id", "remote_id", "table_name", "created_at"},
			[]any{r.TempID, r.RemoteID, r.Table, schema.FormatTimestamp(r.CreatedAt)}, nil
	}
	return nil, nil, fmt.Errorf("cannot persist record of type %T", rec)
}

func nullDate(d *schema.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*d), Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func datePtr(ns sql.NullString) *schema.Date {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	d := schema.Date(ns.String)
	return &d
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

// LoadAll reads every row of every table, keyed by table name.
func (db *DB) LoadAll(ctx context.Context) (map[string][]schema.Record, error) {
	out := make(map[string][]schema.Record, len(schema.Tables))
	loaders := map[string]func(context.Context) ([]schema.Record, error){
		schema.TableProfiles:  db.loadProfiles,
		schema.TableDailyLogs: db.loadDailyLogs,
		schema.TableCycles:    db.loadCycles,
		schema.TableQueue:     db.loadQueue,
		schema.TableSettings:  db.loadSettings,
		schema.TableAliases:   db.loadAliases,
	}
	for _, table := range schema.Tables {
		rows, err := loaders[table](ctx)
		if err != nil {
			return nil, err
		}
		out[table] = rows
	}
	return out, nil
}

func (db *DB) query(ctx context.Context, b sq.SelectBuilder) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return db.conn.QueryContext(ctx, query, args...)
}

func (db *DB) loadProfiles(ctx context.Context) ([]schema.Record, error) {
	rows, err := db.query(ctx, db.sb.Select(
		"id", "user_id", "name", "birth_date", "cycle_type", "average_cycle_length",
		"cycle_range_min", "cycle_range_max", "period_length", "has_pcos", "pcos_symptoms",
		"pcos_treatment", "contraceptive_method", "wants_pregnancy", "synced", "updated_at",
	).From(schema.TableProfiles))
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var out []schema.Record
	for rows.Next() {
		var p schema.Profile
		var birth sql.NullString
		var avg, rmin, rmax sql.NullInt64
		var updated string
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.Name, &birth, &p.CycleType, &avg,
			&rmin, &rmax, &p.PeriodLength, &p.HasPCOS, &p.PCOSSymptoms,
			&p.PCOSTreatment, &p.ContraceptiveMethod, &p.WantsPregnancy, &p.Synced, &updated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		p.BirthDate = datePtr(birth)
		p.AverageCycleLength = intPtr(avg)
		p.CycleRangeMin = intPtr(rmin)
		p.CycleRangeMax = intPtr(rmax)
		if p.UpdatedAt, err = schema.ParseTimestamp(updated); err != nil {
			return nil, fmt.Errorf("profile %s: %w", p.ID, err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}
	return out, nil
}

func (db *DB) loadDailyLogs(ctx context.Context) ([]schema.Record, error) {
	rows, err := db.query(ctx, db.sb.Select(
		"id", "user_id", "date", "symptoms", "flow", "mood", "notes", "synced", "updated_at",
	).From(schema.TableDailyLogs))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily logs: %w", err)
	}
	defer rows.Close()

	var out []schema.Record
	for rows.Next() {
		var l schema.DailyLog
		var updated string
		if err := rows.Scan(&l.ID, &l.UserID, &l.Date, &l.Symptoms, &l.Flow, &l.Mood, &l.Notes, &l.Synced, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan daily log: %w", err)
		}
		if l.UpdatedAt, err = schema.ParseTimestamp(updated); err != nil {
			return nil, fmt.Errorf("daily log %s: %w", l.ID, err)
		}
		out = append(out, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily logs: %w", err)
	}
	return out, nil
}

func (db *DB) loadCycles(ctx context.Context) ([]schema.Record, error) {
	rows, err := db.query(ctx, db.sb.Select(
		"id", "user_id", "start_date", "end_date", "delay", "synced", "updated_at",
	).From(schema.TableCycles))
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var out []schema.Record
	for rows.Next() {
		var c schema.Cycle
		var end sql.NullString
		var updated string
		if err := rows.Scan(&c.ID, &c.UserID, &c.StartDate, &end, &c.Delay, &c.Synced, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		c.EndDate = datePtr(end)
		if c.UpdatedAt, err = schema.ParseTimestamp(updated); err != nil {
			return nil, fmt.Errorf("cycle %s: %w", c.ID, err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycles: %w", err)
	}
	return out, nil
}

func (db *DB) loadQueue(ctx context.Context) ([]schema.Record, error) {
	rows, err := db.query(ctx, db.sb.Select(
		"id", "table_name", "record_id", "operation", "data", "created_at",
	).From(schema.TableQueue).OrderBy("created_at ASC", "id ASC"))
	if err != nil {
		return nil, fmt.Errorf("failed to query sync queue: %w", err)
	}
	defer rows.Close()

	var out []schema.Record
	for rows.Next() {
		var e schema.QueueEntry
		var data sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.Table, &e.RecordID, &e.Operation, &data, &created); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		if data.Valid {
			e.Data = json.RawMessage(data.String)
		}
		if e.CreatedAt, err = schema.ParseTimestamp(created); err != nil {
			return nil, fmt.Errorf("queue entry %d: %w", e.ID, err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync queue: %w", err)
	}
	return out, nil
}

func (db *DB) loadSettings(ctx context.Context) ([]schema.Record, error) {
	rows, err := db.query(ctx, db.sb.Select("key", "value", "updated_at").From(schema.TableSettings))
	if err != nil {
		return nil, fmt.Errorf("failed to query sync settings: %w", err)
	}
	defer rows.Close()

	var out []schema.Record
	for rows.Next() {
		var s schema.Setting
		var updated string
		if err := rows.Scan(&s.Key, &s.Value, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		if s.UpdatedAt, err = schema.ParseTimestamp(updated); err != nil {
			return nil, fmt.Errorf("setting %s: %w", s.Key, err)
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync settings: %w", err)
	}
	return out, nil
}

func (db *DB) loadAliases(ctx context.Context) ([]schema.Record, error) {
	rows, err := db.query(ctx, db.sb.Select("temp_id", "remote_id", "table_name", "created_at").From(schema.TableAliases))
	if err != nil {
		return nil, fmt.Errorf("failed to query id aliases: %w", err)
	}
	defer rows.Close()

	var out []schema.Record
	for rows.Next() {
		var a schema.IDAlias
		var created string
		if err := rows.Scan(&a.TempID, &a.RemoteID, &a.Table, &created); err != nil {
			return nil, fmt.Errorf("failed to scan id alias: %w", err)
		}
		if a.CreatedAt, err = schema.ParseTimestamp(created); err != nil {
			return nil, fmt.Errorf("id alias %s: %w", a.TempID, err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating id aliases: %w", err)
	}
	return out, nil
}
