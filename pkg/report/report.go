// Package report summarizes class abundance across completed partitions.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/geosample/geosample/internal/model"
)

// Source gives read access to completed partition results.
type Source interface {
	Exists(ctx context.Context, id string) (bool, error)
	Load(ctx context.Context, id string) (*model.PartitionResult, error)
}

// ClassRow is the abundance summary of one class.
type ClassRow struct {
	Class     model.ClassID
	Name      string
	Pixels    int64
	Samples   int64
	Present   int
	Saturated int
	Share     float64
}

// Exact reports whether a Phase-2 sample of this class is exactly uniform.
func (r ClassRow) Exact() bool {
	return r.Saturated == 0
}

// Report is the abundance summary of a run.
type Report struct {
	Partitions int
	Done       int
	Classes    []ClassRow
}

// Build loads every DONE partition among ids and aggregates per-class counts
// with DuckDB. Classes that are configured but absent get a zero row.
func Build(ctx context.Context, src Source, ids []string, classes model.ClassMap) (*Report, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, `
		CREATE TABLE counts (
			partition_id VARCHAR NOT NULL,
			class_id INTEGER NOT NULL,
			pixels BIGINT NOT NULL,
			samples BIGINT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	rep := &Report{Partitions: len(ids)}
	if err := load(ctx, db, src, ids, rep); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT
			class_id,
			SUM(pixels)::BIGINT AS pixels,
			SUM(samples)::BIGINT AS samples,
			COUNT(*) FILTER (WHERE pixels > 0) AS present,
			COUNT(*) FILTER (WHERE pixels > samples) AS saturated,
			COALESCE(SUM(pixels)::DOUBLE / NULLIF(SUM(SUM(pixels)) OVER (), 0), 0)::DOUBLE AS share
		FROM counts
		GROUP BY class_id
		ORDER BY class_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate counts: %w", err)
	}
	defer rows.Close()

	seen := make(map[model.ClassID]bool)
	for rows.Next() {
		var r ClassRow
		var class int32
		if err := rows.Scan(&class, &r.Pixels, &r.Samples, &r.Present, &r.Saturated, &r.Share); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Class = model.ClassID(class)
		r.Name = classes.Name(r.Class)
		rep.Classes = append(rep.Classes, r)
		seen[r.Class] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range classes.IDs() {
		if !seen[id] {
			rep.Classes = append(rep.Classes, ClassRow{Class: id, Name: classes.Name(id)})
		}
	}
	slices.SortFunc(rep.Classes, func(a, b ClassRow) int { return int(a.Class) - int(b.Class) })
	return rep, nil
}

func load(ctx context.Context, db *sql.DB, src Source, ids []string, rep *Report) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO counts VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		done, err := src.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !done {
			continue
		}
		res, err := src.Load(ctx, id)
		if err != nil {
			return err
		}
		rep.Done++
		for _, c := range res.Classes() {
			if _, err := stmt.ExecContext(ctx, id, int32(c), res.Counts[c], int64(len(res.Samples[c]))); err != nil {
				return fmt.Errorf("failed to insert counts: %w", err)
			}
		}
	}
	return tx.Commit()
}
