package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// JSONLStore keeps one trade per line in a single file.
type JSONLStore struct {
	path string
	mu   sync.Mutex
}

var _ Store = (*JSONLStore)(nil)

func NewJSONLStore(path string) (*JSONLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry dir: %w", err)
	}
	return &JSONLStore{path: path}, nil
}

func (s *JSONLStore) Path() string { return s.path }

func (s *JSONLStore) Append(_ context.Context, t TradeMetrics) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

func (s *JSONLStore) Update(_ context.Context, t TradeMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readLocked()
	if err != nil {
		return err
	}
	found := false
	for i := range all {
		if all[i].ID == t.ID {
			all[i] = t
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrTradeNotFound, t.ID)
	}
	return s.writeLocked(all)
}

func (s *JSONLStore) Get(_ context.Context, id string) (TradeMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readLocked()
	if err != nil {
		return TradeMetrics{}, err
	}
	for _, t := range all {
		if t.ID == id {
			return t, nil
		}
	}
	return TradeMetrics{}, fmt.Errorf("%w: %s", ErrTradeNotFound, id)
}

func (s *JSONLStore) List(_ context.Context, since time.Time) ([]TradeMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if !t.EntryTime.Before(since) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out, nil
}

func (s *JSONLStore) Close() error { return nil }

// readLocked skips lines that fail to decode so one bad write cannot hide the rest.
func (s *JSONLStore) readLocked() ([]TradeMetrics, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []TradeMetrics
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var t TradeMetrics
		if err := json.Unmarshal(line, &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, sc.Err()
}

func (s *JSONLStore) writeLocked(all []TradeMetrics) error {
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, t := range all {
		if err := enc.Encode(t); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
