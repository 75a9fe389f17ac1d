package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "straznik/pkg/logx"
)

// fileStore keeps routes in memory, backed by two files:
//   - <prefix>.routes.snapshot.json (periodic snapshot)
//   - <prefix>.routes.journal.jsonl (append-only journal of SetChannel calls)
//
// The journal is compacted into the snapshot every compactEvery writes.
type fileStore struct {
	log logx.Logger

	mu           sync.Mutex
	routes       map[string]RoutingConfig
	snapshotPath string
	journal      *os.File
	writes       int
	compactEvery int
}

type journalRecord struct {
	ServerID string   `json:"guild_id"`
	Category Category `json:"category"`
	Channel  string   `json:"channel_id"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		routes:       map[string]RoutingConfig{},
		snapshotPath: prefix + ".routes.snapshot.json",
		compactEvery: 200,
	}
	journalPath := prefix + ".routes.journal.jsonl"

	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("route snapshot unreadable", logx.String("path", s.snapshotPath), logx.Err(err))
	}
	if err := s.replay(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("route journal unreadable", logx.String("path", journalPath), logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	return s, nil
}

func (s *fileStore) Get(ctx context.Context, serverID string) (RoutingConfig, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.routes[serverID]
	if !ok {
		return RoutingConfig{ServerID: serverID}, false, nil
	}
	return rc, true, nil
}

func (s *fileStore) SetChannel(ctx context.Context, serverID string, c Category, channelID string) error {
	_ = ctx
	if categoryColumn(c) == "" {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return errors.New("route journal closed")
	}

	rec := journalRecord{ServerID: serverID, Category: c, Channel: channelID}
	if err := json.NewEncoder(s.journal).Encode(rec); err != nil {
		return err
	}
	s.apply(rec)

	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("route compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) apply(rec journalRecord) {
	cur, ok := s.routes[rec.ServerID]
	if !ok {
		cur = RoutingConfig{ServerID: rec.ServerID}
	}
	s.routes[rec.ServerID] = cur.With(rec.Category, rec.Channel)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.routes); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]RoutingConfig
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		s.routes[k] = v
	}
	return nil
}

func (s *fileStore) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec journalRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil || rec.ServerID == "" {
			continue
		}
		s.apply(rec)
	}
	return sc.Err()
}
