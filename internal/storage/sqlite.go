package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"steamwatch/internal/steamid"
	"steamwatch/pkg/logx"
)

//go:embed migrations.sql
var migrations string

// globalScope marks global audiences in the audiences table.
const globalScope = ""

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log, pruneEvery: 500}, nil
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) (State, error) {
	var st State

	rows, err := s.db.QueryContext(ctx, `SELECT steamid, grp FROM watch ORDER BY pos`)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var (
			sid string
			grp sql.NullString
		)
		if err := rows.Scan(&sid, &grp); err != nil {
			rows.Close()
			return st, err
		}
		id, err := steamid.Parse(sid)
		if err != nil {
			s.log.Warn("skipping bad watch row", logx.String("steamid", sid))
			continue
		}
		st.Watch = append(st.Watch, WatchEntry{ID: id, Group: grp.String})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT user_id, steamid, name FROM bindings ORDER BY pos`)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var (
			user, sid string
			name      sql.NullString
		)
		if err := rows.Scan(&user, &sid, &name); err != nil {
			rows.Close()
			return st, err
		}
		id, err := steamid.Parse(sid)
		if err != nil {
			continue
		}
		st.Bindings = append(st.Bindings, Binding{User: user, ID: id, Name: name.String})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT scope, audience FROM audiences ORDER BY scope, pos`)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var scope, aud string
		if err := rows.Scan(&scope, &aud); err != nil {
			rows.Close()
			return st, err
		}
		if scope == globalScope {
			st.Global = append(st.Global, aud)
			continue
		}
		if st.Groups == nil {
			st.Groups = map[string][]string{}
		}
		st.Groups[scope] = append(st.Groups[scope], aud)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return st, err
		}
		if st.Settings == nil {
			st.Settings = map[string]string{}
		}
		st.Settings[k] = v
	}
	return st, rows.Err()
}

// replace runs fn inside a transaction after clearing table.
func (s *sqliteStore) replace(ctx context.Context, table string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) SaveWatch(ctx context.Context, entries []WatchEntry) error {
	return s.replace(ctx, "watch", func(tx *sql.Tx) error {
		for i, e := range entries {
			if _, err := tx.ExecContext(ctx, `INSERT INTO watch(pos, steamid, grp) VALUES(?,?,?)`,
				i, e.ID.String(), nullStr(e.Group)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) SaveBindings(ctx context.Context, bindings []Binding) error {
	return s.replace(ctx, "bindings", func(tx *sql.Tx) error {
		for i, b := range bindings {
			if _, err := tx.ExecContext(ctx, `INSERT INTO bindings(pos, user_id, steamid, name) VALUES(?,?,?,?)`,
				i, b.User, b.ID.String(), nullStr(b.Name)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) SaveAudiences(ctx context.Context, global []string, groups map[string][]string) error {
	return s.replace(ctx, "audiences", func(tx *sql.Tx) error {
		insert := func(scope string, list []string) error {
			for i, a := range list {
				if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO audiences(scope, pos, audience) VALUES(?,?,?)`,
					scope, i, a); err != nil {
					return err
				}
			}
			return nil
		}
		if err := insert(globalScope, global); err != nil {
			return err
		}
		names := make([]string, 0, len(groups))
		for g := range groups {
			names = append(names, g)
		}
		sort.Strings(names)
		for _, g := range names {
			if g == globalScope {
				continue
			}
			if err := insert(g, groups[g]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) SaveSetting(ctx context.Context, key, value string) error {
	if value == "" {
		_, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	stampAudit(&e)
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(id, at, at_ms, actor, platform, channel, action, target, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.At.Format(time.RFC3339Nano), e.At.UnixMilli(), e.Actor, nullStr(e.Platform), nullStr(e.Channel),
		e.Action, nullStr(e.Target), ok, nullStr(e.Error), e.TookMS,
	)
	return err
}

func (s *sqliteStore) PruneAudit(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit WHERE at_ms < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, _ = s.db.ExecContext(pctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
