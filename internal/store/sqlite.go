package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	logx "goliveguard/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the SQLite-backed store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) FindAll(ctx context.Context) ([]CommunityDoc, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, watch, rooms FROM communities`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []CommunityDoc
	for rows.Next() {
		var (
			id    int64
			watch int
			raw   string
		)
		if err := rows.Scan(&id, &watch, &raw); err != nil {
			return nil, err
		}
		rooms, err := decodeRooms(raw)
		if err != nil {
			// A corrupt row must not block startup; skip it and keep going.
			s.log.Warn("skipping corrupt setup document", logx.Int64("community_id", id), logx.Err(err))
			continue
		}
		docs = append(docs, CommunityDoc{ID: id, Watch: watch != 0, Rooms: rooms})
	}
	return docs, rows.Err()
}

func (s *sqliteStore) FindOne(ctx context.Context, id int64) (CommunityDoc, bool, error) {
	if s == nil || s.db == nil {
		return CommunityDoc{}, false, ErrClosed
	}
	var (
		watch int
		raw   string
	)
	err := s.db.QueryRowContext(ctx, `SELECT watch, rooms FROM communities WHERE id = ?`, id).Scan(&watch, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return CommunityDoc{}, false, nil
	}
	if err != nil {
		return CommunityDoc{}, false, err
	}
	rooms, err := decodeRooms(raw)
	if err != nil {
		return CommunityDoc{}, false, err
	}
	return CommunityDoc{ID: id, Watch: watch != 0, Rooms: rooms}, true, nil
}

func (s *sqliteStore) Upsert(ctx context.Context, doc CommunityDoc) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	raw, err := encodeRooms(doc.Rooms)
	if err != nil {
		return err
	}
	// Only non-identity fields are replaced on conflict.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO communities(id, watch, rooms) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET watch=excluded.watch, rooms=excluded.rooms`,
		doc.ID, boolInt(doc.Watch), raw,
	)
	return err
}

func (s *sqliteStore) DeleteOne(ctx context.Context, id int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM communities WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) DeleteMany(ctx context.Context, ids []int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	if len(ids) == 0 {
		return 0, nil
	}
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM communities WHERE id IN (`+strings.Join(ph, ",")+`)`, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// BulkWrite executes every operation independently; the iteration order of
// the map is the only ordering, i.e. none. Per-key failures are collected
// instead of aborting the batch.
func (s *sqliteStore) BulkWrite(ctx context.Context, ops map[int64]Op) (map[int64]error, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if len(ops) == 0 {
		return nil, nil
	}

	failed := map[int64]error{}
	for id, op := range ops {
		var err error
		switch op.Kind {
		case OpDelete:
			_, err = s.DeleteOne(ctx, id)
		case OpSetRooms:
			doc := op.Doc
			doc.ID = id
			err = s.Upsert(ctx, doc)
		case OpUnsetRooms:
			err = s.unsetRooms(ctx, id, op.RoomIDs)
		default:
			err = fmt.Errorf("unknown op kind %d", op.Kind)
		}
		if err != nil {
			failed[id] = err
		}
	}
	if len(failed) == 0 {
		return nil, nil
	}
	return failed, nil
}

func (s *sqliteStore) unsetRooms(ctx context.Context, id int64, roomIDs []int64) error {
	if len(roomIDs) == 0 {
		return nil
	}
	doc, ok, err := s.FindOne(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		// Matches zero documents; not an error.
		return nil
	}
	for _, rid := range roomIDs {
		delete(doc.Rooms, rid)
	}
	raw, err := encodeRooms(doc.Rooms)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE communities SET rooms = ? WHERE id = ?`, raw, id)
	return err
}

// Rooms are stored as a JSON object keyed by the decimal room id, mirroring
// the document shape `{ "<room_id>": {"limit": n} }`.

func encodeRooms(rooms map[int64]RoomSetup) (string, error) {
	m := make(map[string]RoomSetup, len(rooms))
	for id, setup := range rooms {
		m[strconv.FormatInt(id, 10)] = setup
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeRooms(raw string) (map[int64]RoomSetup, error) {
	if strings.TrimSpace(raw) == "" {
		return map[int64]RoomSetup{}, nil
	}
	var m map[string]RoomSetup
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	rooms := make(map[int64]RoomSetup, len(m))
	for k, setup := range m {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid room id %q: %w", k, err)
		}
		rooms[id] = setup
	}
	return rooms, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
