package storage

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"steamwatch/pkg/logx"
)

// fileStore keeps everything under one directory:
//   - state.json                (atomically replaced on every save)
//   - audit.jsonl               (append-only JSON lines)
//   - dedup.snapshot.json       (compacted dedup marks)
//   - dedup.journal.jsonl       (append-only dedup journal)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	statePath string
	state     State

	auditPath string
	auditFile *os.File

	dedupSnapshotPath string
	dedupJournal      *os.File
	dedup             map[string]int64 // unix milli
	dedupWrites       int
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		dir = "./data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:               log,
		statePath:         filepath.Join(dir, "state.json"),
		auditPath:         filepath.Join(dir, "audit.jsonl"),
		dedupSnapshotPath: filepath.Join(dir, "dedup.snapshot.json"),
		dedup:             map[string]int64{},
	}
	if err := s.readState(); err != nil {
		return nil, err
	}

	af, err := os.OpenFile(s.auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.auditFile = af

	journalPath := filepath.Join(dir, "dedup.journal.jsonl")
	_ = loadDedupSnapshot(s.dedupSnapshotPath, s.dedup)
	_ = replayDedupJournal(journalPath, s.dedup)
	pruneExpiredDedup(s.dedup, time.Now())

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}
	s.dedupJournal = jf
	return s, nil
}

func (s *fileStore) readState() error {
	b, err := os.ReadFile(s.statePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil
	}
	return json.Unmarshal(b, &s.state)
}

// writeStateLocked replaces state.json via a temp file and rename.
func (s *fileStore) writeStateLocked(next State) error {
	if s.auditFile == nil {
		return ErrClosed
	}
	b, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.statePath, b); err != nil {
		return err
	}
	s.state = next
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *fileStore) Load(ctx context.Context) (State, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneState(s.state), nil
}

func (s *fileStore) SaveWatch(ctx context.Context, entries []WatchEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneState(s.state)
	next.Watch = append([]WatchEntry(nil), entries...)
	return s.writeStateLocked(next)
}

func (s *fileStore) SaveBindings(ctx context.Context, bindings []Binding) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneState(s.state)
	next.Bindings = append([]Binding(nil), bindings...)
	return s.writeStateLocked(next)
}

func (s *fileStore) SaveAudiences(ctx context.Context, global []string, groups map[string][]string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneState(s.state)
	next.Global = append([]string(nil), global...)
	next.Groups = cloneGroups(groups)
	return s.writeStateLocked(next)
}

func (s *fileStore) SaveSetting(ctx context.Context, key, value string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneState(s.state)
	if next.Settings == nil {
		next.Settings = map[string]string{}
	}
	if value == "" {
		delete(next.Settings, key)
	} else {
		next.Settings[key] = value
	}
	return s.writeStateLocked(next)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	stampAudit(&e)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

// PruneAudit rewrites the audit log without entries older than before.
func (s *fileStore) PruneAudit(ctx context.Context, before time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return 0, ErrClosed
	}

	f, err := os.Open(s.auditPath)
	if err != nil {
		return 0, err
	}
	var (
		kept    []byte
		removed int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		var e AuditEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if e.At.Before(before) {
			removed++
			continue
		}
		kept = append(kept, line...)
		kept = append(kept, '\n')
	}
	_ = f.Close()
	if err := sc.Err(); err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}

	if err := s.auditFile.Close(); err != nil {
		s.log.Debug("audit close before prune failed", logx.Err(err))
	}
	s.auditFile = nil
	werr := writeFileAtomic(s.auditPath, kept)
	af, err := os.OpenFile(s.auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, multierr.Append(werr, err)
	}
	s.auditFile = af
	if werr != nil {
		return 0, werr
	}
	return removed, nil
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournal == nil {
		return ErrClosed
	}
	s.dedup[key] = ms
	if err := json.NewEncoder(s.dedupJournal).Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%1000 == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[strings.TrimSpace(key)]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) compactLocked() error {
	pruneExpiredDedup(s.dedup, time.Now())
	b, err := json.Marshal(s.dedup)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.dedupSnapshotPath, b); err != nil {
		return err
	}
	if err := s.dedupJournal.Truncate(0); err != nil {
		return err
	}
	_, err = s.dedupJournal.Seek(0, 2)
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.auditFile != nil {
		err = multierr.Append(err, s.auditFile.Close())
		s.auditFile = nil
	}
	if s.dedupJournal != nil {
		err = multierr.Append(err, s.compactLocked())
		err = multierr.Append(err, s.dedupJournal.Close())
		s.dedupJournal = nil
	}
	return err
}

func loadDedupSnapshot(path string, out map[string]int64) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var m map[string]int64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return sc.Err()
}

func pruneExpiredDedup(m map[string]int64, now time.Time) {
	cut := now.UnixMilli()
	for k, v := range m {
		if v < cut {
			delete(m, k)
		}
	}
}

func cloneState(in State) State {
	out := State{
		Watch:    append([]WatchEntry(nil), in.Watch...),
		Bindings: append([]Binding(nil), in.Bindings...),
		Global:   append([]string(nil), in.Global...),
		Groups:   cloneGroups(in.Groups),
	}
	if in.Settings != nil {
		out.Settings = make(map[string]string, len(in.Settings))
		for k, v := range in.Settings {
			out.Settings[k] = v
		}
	}
	return out
}

func cloneGroups(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}
