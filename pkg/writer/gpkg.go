package writer

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/geosample/geosample/internal/model"
)

const (
	gpkgApplicationID = 0x47504B47 // "GPKG"
	gpkgUserVersion   = 10300

	srsUndefinedCartesian = -1

	// srsUserDefined is used for CRSs without an EPSG code.
	srsUserDefined = 999999
)

const wgs84WKT = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`

var gpkgSchema = []string{
	`CREATE TABLE gpkg_spatial_ref_sys (
		srs_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL PRIMARY KEY,
		organization TEXT NOT NULL,
		organization_coordsys_id INTEGER NOT NULL,
		definition TEXT NOT NULL,
		description TEXT
	)`,
	`CREATE TABLE gpkg_contents (
		table_name TEXT NOT NULL PRIMARY KEY,
		data_type TEXT NOT NULL,
		identifier TEXT UNIQUE,
		description TEXT DEFAULT '',
		last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		min_x DOUBLE,
		min_y DOUBLE,
		max_x DOUBLE,
		max_y DOUBLE,
		srs_id INTEGER,
		CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
	)`,
	`CREATE TABLE gpkg_geometry_columns (
		table_name TEXT NOT NULL,
		column_name TEXT NOT NULL,
		geometry_type_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL,
		z TINYINT NOT NULL,
		m TINYINT NOT NULL,
		CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
		CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
		CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys (srs_id)
	)`,
	`INSERT INTO gpkg_spatial_ref_sys VALUES
		('Undefined cartesian SRS', -1, 'NONE', -1, 'undefined', 'undefined cartesian coordinate reference system'),
		('Undefined geographic SRS', 0, 'NONE', 0, 'undefined', 'undefined geographic coordinate reference system'),
		('WGS 84 geodetic', 4326, 'EPSG', 4326, '` + wgs84WKT + `', 'longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid')`,
}

// GeoPackageWriter writes OGC GeoPackage 1.3 point feature tables.
type GeoPackageWriter struct{}

// NewGeoPackageWriter creates a GeoPackage writer.
func NewGeoPackageWriter() *GeoPackageWriter {
	return &GeoPackageWriter{}
}

// srsID registers crs in gpkg_spatial_ref_sys if needed and returns its id.
func srsID(ctx context.Context, tx *sql.Tx, crs *model.CRS) (int, error) {
	switch {
	case crs == nil:
		return srsUndefinedCartesian, nil
	case crs.EPSG == 4326:
		return 4326, nil
	case crs.EPSG > 0:
		_, err := tx.ExecContext(ctx,
			`INSERT INTO gpkg_spatial_ref_sys VALUES (?, ?, 'EPSG', ?, 'undefined', ?)`,
			crs.String(), crs.EPSG, crs.EPSG, crs.Citation)
		return crs.EPSG, err
	default:
		_, err := tx.ExecContext(ctx,
			`INSERT INTO gpkg_spatial_ref_sys VALUES (?, ?, 'NONE', ?, 'undefined', ?)`,
			crs.String(), srsUserDefined, srsUserDefined, crs.Citation)
		return srsUserDefined, err
	}
}

// gpkgPoint encodes a GeoPackage geometry blob: header without envelope
// followed by a WKB point.
func gpkgPoint(dst []byte, srs int32, x, y float64) []byte {
	dst = append(dst, 'G', 'P', 0, 0x01)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(srs))
	return appendWKBPoint(dst, x, y)
}

// Write implements Writer.
func (w *GeoPackageWriter) Write(ctx context.Context, path string, set *model.FinalSampleSet) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open geopackage: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA application_id = %d", gpkgApplicationID),
		fmt.Sprintf("PRAGMA user_version = %d", gpkgUserVersion),
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to set %q: %w", pragma, err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range gpkgSchema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create geopackage tables: %w", err)
		}
	}

	srs, err := srsID(ctx, tx, set.CRS)
	if err != nil {
		return fmt.Errorf("failed to register srs: %w", err)
	}

	table := LayerName(set.Class)
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %q (
		fid INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
		geom POINT,
		class_id INTEGER NOT NULL,
		class_name TEXT
	)`, table))
	if err != nil {
		return fmt.Errorf("failed to create feature table: %w", err)
	}

	b := bounds(set.Samples)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, description, last_change, min_x, min_y, max_x, max_y, srs_id)
		VALUES (?, 'features', ?, ?, ?, ?, ?, ?, ?, ?)`,
		table, table,
		fmt.Sprintf("%d samples of %d pixels", len(set.Samples), set.Count),
		time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		b[0], b[1], b[2], b[3], srs)
	if err != nil {
		return fmt.Errorf("failed to register contents: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO gpkg_geometry_columns VALUES (?, 'geom', 'POINT', ?, 0, 0)`, table, srs)
	if err != nil {
		return fmt.Errorf("failed to register geometry column: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %q (geom, class_id, class_name) VALUES (?, ?, ?)`, table))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	var name any
	if set.ClassName != "" {
		name = set.ClassName
	}
	for _, pt := range set.Samples {
		blob := gpkgPoint(make([]byte, 0, 8+wkbPointSize), int32(srs), pt.X, pt.Y)
		if _, err := stmt.ExecContext(ctx, blob, int64(pt.Class), name); err != nil {
			return fmt.Errorf("failed to insert point: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
