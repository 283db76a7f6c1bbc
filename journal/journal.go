// Package journal records motion history into a SQLite database.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"image/color"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/mastercactapus/graver/coord"
	"github.com/mastercactapus/graver/machine"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS points (
	run         INTEGER NOT NULL REFERENCES runs(id),
	segment     INTEGER NOT NULL,
	idx         INTEGER NOT NULL,
	x           REAL NOT NULL,
	y           REAL NOT NULL,
	z           REAL NOT NULL,
	c           REAL NOT NULL,
	tool_size   REAL NOT NULL,
	color       INTEGER NOT NULL,
	recorded_at TIMESTAMP NOT NULL,
	PRIMARY KEY (run, segment, idx)
);
`

// Journal is a machine.Observer that writes every history change to
// a database. Each Journal records one run.
type Journal struct {
	db  *sql.DB
	run int64

	mx  sync.Mutex
	err error
}

var _ machine.Observer = &Journal{}

// Open opens or creates the database at path and starts a new run.
func Open(ctx context.Context, path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// one writer, and an in-memory database lives on a single connection
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx, schema)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	res, err := db.ExecContext(ctx, `INSERT INTO runs (started_at) VALUES (?)`, time.Now().UTC())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("start run: %w", err)
	}
	run, err := res.LastInsertId()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("start run: %w", err)
	}
	return &Journal{db: db, run: run}, nil
}

// Run returns the id of the run being recorded.
func (j *Journal) Run() int64 { return j.run }

func packColor(c color.RGBA) int64 {
	return int64(c.R)<<24 | int64(c.G)<<16 | int64(c.B)<<8 | int64(c.A)
}

func unpackColor(v int64) color.RGBA {
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
}

// HistoryChanged stores e. Failures are logged and kept for Err.
func (j *Journal) HistoryChanged(e machine.Event) {
	var err error
	ctx := context.Background()
	switch e.Kind {
	case machine.PointAppended, machine.PointReplaced:
		_, err = j.db.ExecContext(ctx, `
			INSERT INTO points (run, segment, idx, x, y, z, c, tool_size, color, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (run, segment, idx) DO UPDATE SET
				x = excluded.x, y = excluded.y, z = excluded.z, c = excluded.c,
				recorded_at = excluded.recorded_at`,
			j.run, e.Segment, e.Index, e.Point.X, e.Point.Y, e.Point.Z, e.Point.C,
			e.ToolSize, packColor(e.Color), time.Now().UTC(),
		)
	case machine.SegmentStyled:
		_, err = j.db.ExecContext(ctx,
			`UPDATE points SET tool_size = ?, color = ? WHERE run = ? AND segment = ?`,
			e.ToolSize, packColor(e.Color), j.run, e.Segment,
		)
	}
	if err == nil {
		return
	}

	log.Error().Err(err).Str("event", e.Kind.String()).Int("segment", e.Segment).Int("index", e.Index).Msg("journal write")
	j.mx.Lock()
	if j.err == nil {
		j.err = err
	}
	j.mx.Unlock()
}

// Err returns the first write error, if any.
func (j *Journal) Err() error {
	j.mx.Lock()
	defer j.mx.Unlock()
	return j.err
}

// Segments reads back the segments recorded in this run.
func (j *Journal) Segments(ctx context.Context) ([]machine.Segment, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT segment, x, y, z, c, tool_size, color
		FROM points
		WHERE run = ?
		ORDER BY segment, idx`, j.run)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segs []machine.Segment
	last := -1
	for rows.Next() {
		var (
			seg  int
			p    coord.Point
			size float64
			rgba int64
		)
		err = rows.Scan(&seg, &p.X, &p.Y, &p.Z, &p.C, &size, &rgba)
		if err != nil {
			return nil, err
		}
		if seg != last {
			segs = append(segs, machine.Segment{ToolSize: size, Color: unpackColor(rgba)})
			last = seg
		}
		cur := &segs[len(segs)-1]
		cur.Points = append(cur.Points, p)
	}
	return segs, rows.Err()
}

func (j *Journal) Close() error { return j.db.Close() }
