package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/winklabs/storepulse/internal/events"
)

// Spool is the on-disk overflow buffer: one JSON event per line, append-only.
// Batches land here after the in-process retry ladder is exhausted and are
// drained back out when the backend recovers. Draining rewrites the remainder
// through a temp file and renames it over the spool, so a crash mid-drain
// leaves either the old file or the trimmed one, never a torn line.
type Spool struct {
	mu   sync.Mutex
	path string
}

// NewSpool opens (or lazily creates) a spool at path.
func NewSpool(path string) (*Spool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Spool{path: path}, nil
}

// Append writes the batch to the end of the spool and fsyncs it. Events in
// the spool have already exhausted in-memory retries, so losing them to a
// power cut would silently undercount footfall.
func (s *Spool) Append(batch []events.Event) error {
	if len(batch) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, ev := range batch {
		line, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal spooled event: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush spool: %w", err)
	}
	return f.Sync()
}

// Drain removes and returns up to max events from the head of the spool.
// Unparseable lines are dropped; a corrupt line can never be delivered and
// keeping it would wedge the drain loop forever.
func (s *Spool) Drain(max int) ([]events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open spool: %w", err)
	}

	var (
		drained   []events.Event
		remainder [][]byte
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if len(drained) >= max {
			cp := make([]byte, len(line))
			copy(cp, line)
			remainder = append(remainder, cp)
			continue
		}
		var ev events.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		drained = append(drained, ev)
	}
	scanErr := sc.Err()
	f.Close()
	if scanErr != nil {
		return nil, fmt.Errorf("scan spool: %w", scanErr)
	}

	if len(drained) == 0 && len(remainder) == 0 {
		os.Remove(s.path)
		return nil, nil
	}

	if err := s.rewrite(remainder); err != nil {
		return nil, err
	}
	return drained, nil
}

// Depth counts events currently spooled, for metrics.
func (s *Spool) Depth() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) > 0 {
			n++
		}
	}
	return n, sc.Err()
}

func (s *Spool) rewrite(lines [][]byte) error {
	if len(lines) == 0 {
		return os.Remove(s.path)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open spool tmp: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, line := range lines {
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush spool tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
