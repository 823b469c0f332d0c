// Package migrate moves a user's records in and out of the local store as
// JSONL, one {"table": ..., "record": ...} envelope per line.
//
// Imports go through the record services, so restored records are queued
// for upload like any local edit and matched to their remote copies by
// natural key on the next sync.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lunaria-app/lunaria/internal/offline/records"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

// Envelope is one line of an export.
type Envelope struct {
	Table  string          `json:"table"`
	Record json.RawMessage `json:"record"`
}

// ExportResult counts what was written.
type ExportResult struct {
	Profiles  int
	DailyLogs int
	Cycles    int
}

// Total returns the number of records written.
func (r ExportResult) Total() int { return r.Profiles + r.DailyLogs + r.Cycles }

// ImportOptions configures Import.
type ImportOptions struct {
	// UserID, when set, reassigns every record to this user.
	UserID string
	// DryRun validates and counts without saving.
	DryRun bool
}

// ImportResult contains statistics about an import.
type ImportResult struct {
	Imported  int
	Unchanged int
	Errors    []string
}

// Export writes every profile, cycle and daily log of userID to w.
func Export(ctx context.Context, w io.Writer, svc *records.Services, userID string) (ExportResult, error) {
	var res ExportResult
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	write := func(table string, rec any) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal %s record: %w", table, err)
		}
		if err := enc.Encode(Envelope{Table: table, Record: raw}); err != nil {
			return fmt.Errorf("failed to write %s record: %w", table, err)
		}
		return nil
	}

	if p, err := svc.Profiles.GetByUserID(userID); err == nil {
		if err := write(schema.TableProfiles, p); err != nil {
			return res, err
		}
		res.Profiles++
	} else if !errors.Is(err, records.ErrNotFound) {
		return res, err
	}
	for _, c := range svc.Cycles.GetAll(userID) {
		if err := write(schema.TableCycles, c); err != nil {
			return res, err
		}
		res.Cycles++
	}
	for _, l := range svc.DailyLogs.GetAll(userID) {
		if err := write(schema.TableDailyLogs, l); err != nil {
			return res, err
		}
		res.DailyLogs++
	}
	if err := bw.Flush(); err != nil {
		return res, fmt.Errorf("failed to flush export: %w", err)
	}
	return res, nil
}

// Import reads envelopes from r and saves each record. Malformed lines and
// records the services reject are reported in the result and skipped.
func Import(ctx context.Context, r io.Reader, svc *records.Services, opts ImportOptions) (*ImportResult, error) {
	res := &ImportResult{}
	dec := json.NewDecoder(r)

	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return res, fmt.Errorf("invalid JSON at record %d: %w", line, err)
		}

		changed, err := importOne(ctx, svc, env, opts)
		switch {
		case err != nil:
			res.Errors = append(res.Errors, fmt.Sprintf("record %d (%s): %v", line, env.Table, err))
		case changed:
			res.Imported++
		default:
			res.Unchanged++
		}
	}
	return res, nil
}

// importOne saves one record and reports whether anything changed.
func importOne(ctx context.Context, svc *records.Services, env Envelope, opts ImportOptions) (bool, error) {
	switch env.Table {
	case schema.TableProfiles:
		var p schema.Profile
		if err := json.Unmarshal(env.Record, &p); err != nil {
			return false, err
		}
		if opts.UserID != "" {
			p.UserID = opts.UserID
		}
		p.ID = ""
		p.SetDefaults()
		if cur, err := svc.Profiles.GetByUserID(p.UserID); err == nil {
			p.ID = cur.ID
			if schema.ContentEqual(cur, &p) {
				return false, nil
			}
		}
		if opts.DryRun {
			return true, p.Validate()
		}
		_, err := svc.Profiles.Save(ctx, &p)
		return err == nil, err

	case schema.TableDailyLogs:
		var l schema.DailyLog
		if err := json.Unmarshal(env.Record, &l); err != nil {
			return false, err
		}
		if opts.UserID != "" {
			l.UserID = opts.UserID
		}
		l.ID = ""
		l.SetDefaults()
		if cur, err := svc.DailyLogs.GetByDate(l.UserID, l.Date); err == nil {
			l.ID = cur.ID
			if schema.ContentEqual(cur, &l) {
				return false, nil
			}
		}
		if opts.DryRun {
			return true, l.Validate()
		}
		_, err := svc.DailyLogs.Save(ctx, &l)
		return err == nil, err

	case schema.TableCycles:
		var c schema.Cycle
		if err := json.Unmarshal(env.Record, &c); err != nil {
			return false, err
		}
		if opts.UserID != "" {
			c.UserID = opts.UserID
		}
		c.ID = ""
		if cur, err := svc.Cycles.GetByStartDate(c.UserID, c.StartDate); err == nil {
			c.ID = cur.ID
			if schema.ContentEqual(cur, &c) {
				return false, nil
			}
		}
		if opts.DryRun {
			return true, c.Validate()
		}
		_, err := svc.Cycles.Save(ctx, &c)
		return err == nil, err
	}
	return false, fmt.Errorf("unknown table %q", env.Table)
}

// ExportFile writes an export to path via a temp file. An existing file is
// kept as path.backup.<timestamp> when backup is set.
func ExportFile(ctx context.Context, path string, svc *records.Services, userID string, backup bool) (ExportResult, string, error) {
	var backupPath string
	if backup {
		if data, err := os.ReadFile(path); err == nil {
			backupPath = path + ".backup." + time.Now().Format("20060102-150405")
			if err := os.WriteFile(backupPath, data, 0600); err != nil {
				return ExportResult{}, "", fmt.Errorf("failed to create backup: %w", err)
			}
		}
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return ExportResult{}, backupPath, fmt.Errorf("failed to create export file: %w", err)
	}
	res, err := Export(ctx, f, svc, userID)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return res, backupPath, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return res, backupPath, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return res, backupPath, nil
}

// ImportFile imports the JSONL file at path.
func ImportFile(ctx context.Context, path string, svc *records.Services, opts ImportOptions) (*ImportResult, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()
	return Import(ctx, f, svc, opts)
}
