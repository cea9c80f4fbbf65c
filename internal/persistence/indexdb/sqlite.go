// Package indexdb keeps a queryable SQLite record of world builds, snapshots,
// palettes and mirror uploads. Snapshots and JSONL logs stay the source of
// truth; the index is written asynchronously and may drop rows under load.
package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"brickstream.ai/internal/palette"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropBuild    atomic.Uint64
	dropSnapshot atomic.Uint64
	dropMirror   atomic.Uint64
	writeErrors  atomic.Uint64
}

type reqKind int

const (
	reqBuild reqKind = iota + 1
	reqSnapshot
	reqMirror
)

type req struct {
	kind reqKind

	build    BuildRow
	snapshot SnapshotRow
	mirror   MirrorRow
}

type BuildRow struct {
	BuildID       string
	WorldID       string
	Generation    uint64
	StartedAt     time.Time
	Duration      time.Duration
	SourceKind    string
	PaletteDigest string
	Chunks        int
	Placed        int
	Skipped       int
	Nodes         int
	Bricks        int
	Err           string
}

type SnapshotRow struct {
	WorldID    string
	Generation uint64
	BuildID    string
	Path       string
	Nodes      int
	Bricks     int
	Bytes      int64
	CreatedAt  time.Time
}

type MirrorRow struct {
	Path       string
	Key        string
	Bytes      int64
	UploadedAt time.Time
	Err        string
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	DropBuild     uint64
	DropSnapshot  uint64
	DropMirror    uint64
	WriteErrors   uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS palettes (
			digest TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			entries INTEGER NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS builds (
			build_id TEXT PRIMARY KEY,
			world_id TEXT NOT NULL,
			generation INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			source_kind TEXT NOT NULL,
			palette_digest TEXT NOT NULL,
			chunks INTEGER NOT NULL,
			placed INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			nodes INTEGER NOT NULL,
			bricks INTEGER NOT NULL,
			err TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_builds_world_gen ON builds(world_id, generation);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			world_id TEXT NOT NULL,
			generation INTEGER NOT NULL,
			build_id TEXT NOT NULL,
			path TEXT NOT NULL,
			nodes INTEGER NOT NULL,
			bricks INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (world_id, generation)
		);`,
		`CREATE TABLE IF NOT EXISTS mirrors (
			path TEXT PRIMARY KEY,
			object_key TEXT NOT NULL,
			bytes INTEGER NOT NULL,
			uploaded_at TEXT NOT NULL,
			err TEXT
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropBuild:     s.dropBuild.Load(),
		DropSnapshot:  s.dropSnapshot.Load(),
		DropMirror:    s.dropMirror.Load(),
		WriteErrors:   s.writeErrors.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

func (s *SQLiteIndex) RecordBuild(b BuildRow) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqBuild, build: b}, &s.dropBuild)
}

func (s *SQLiteIndex) RecordSnapshot(r SnapshotRow) {
	if s == nil || r.Path == "" {
		return
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: r}, &s.dropSnapshot)
}

func (s *SQLiteIndex) RecordMirror(r MirrorRow) {
	if s == nil || r.Path == "" {
		return
	}
	s.enqueue(req{kind: reqMirror, mirror: r}, &s.dropMirror)
}

// UpsertPalette stores the merged palette synchronously, keyed by digest.
func (s *SQLiteIndex) UpsertPalette(ctx context.Context, p *palette.Palette) error {
	if s == nil {
		return nil
	}
	b, err := p.MarshalJSON()
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO palettes(digest,source,entries,json,updated_at) VALUES(?,?,?,?,?)`,
		p.Digest(), p.Source(), p.Len(), string(b), now,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// LatestSnapshot returns the highest-generation snapshot recorded for worldID.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context, worldID string) (SnapshotRow, bool, error) {
	var (
		r       SnapshotRow
		gen     int64
		created string
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT world_id,generation,build_id,path,nodes,bricks,bytes,created_at
		 FROM snapshots WHERE world_id=? ORDER BY generation DESC LIMIT 1`, worldID)
	err := row.Scan(&r.WorldID, &gen, &r.BuildID, &r.Path, &r.Nodes, &r.Bricks, &r.Bytes, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return r, false, nil
	}
	if err != nil {
		return r, false, err
	}
	r.Generation = uint64(gen)
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return r, true, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertBuild, _ := s.db.Prepare(`INSERT OR REPLACE INTO builds(build_id,world_id,generation,started_at,duration_ms,source_kind,palette_digest,chunks,placed,skipped,nodes,bricks,err) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(world_id,generation,build_id,path,nodes,bricks,bytes,created_at) VALUES(?,?,?,?,?,?,?,?)`)
	insertMirror, _ := s.db.Prepare(`INSERT OR REPLACE INTO mirrors(path,object_key,bytes,uploaded_at,err) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertBuild, insertSnapshot, insertMirror} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrors.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			s.writeErrors.Add(1)
			_ = tx.Rollback()
			tx = nil
			return
		}
		opCount++
	}

	for {
		var (
			r  req
			ok bool
		)
		// commit promptly once the queue drains so readers see rows
		select {
		case r, ok = <-s.ch:
		default:
			commit()
			r, ok = <-s.ch
		}
		if !ok {
			break
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqBuild:
			b := r.build
			exec(insertBuild,
				b.BuildID, b.WorldID, int64(b.Generation), formatTime(b.StartedAt),
				b.Duration.Milliseconds(), b.SourceKind, b.PaletteDigest,
				b.Chunks, b.Placed, b.Skipped, b.Nodes, b.Bricks, nullString(b.Err),
			)
		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot,
				sn.WorldID, int64(sn.Generation), sn.BuildID, sn.Path,
				sn.Nodes, sn.Bricks, sn.Bytes, formatTime(sn.CreatedAt),
			)
		case reqMirror:
			m := r.mirror
			exec(insertMirror, m.Path, m.Key, m.Bytes, formatTime(m.UploadedAt), nullString(m.Err))
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
