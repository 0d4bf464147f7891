package schedule

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Journal appends results to a dated JSONL file so a database outage never
// loses checks that already burned API quota. Replay lands them later.
type Journal struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

func NewJournal(dir string) *Journal {
	return &Journal{dir: dir, now: time.Now}
}

// Path is today's journal file: {dir}/usps_results_{YYYYMMDD}.jsonl.
func (j *Journal) Path() string {
	return filepath.Join(j.dir, fmt.Sprintf("usps_results_%s.jsonl", j.now().Format("20060102")))
}

// Append writes one JSON line per record.
func Append[T any](j *Journal, records []T) error {
	if len(records) == 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return fmt.Errorf("creating journal dir: %w", err)
	}
	f, err := os.OpenFile(j.Path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encoding journal record: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing journal: %w", err)
	}
	log.Printf("[Journal] saved %d records to %s", len(records), j.Path())
	return nil
}

// ReadJournal parses every line of a JSONL file.
func ReadJournal[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec T
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("parsing journal line: %w", err)
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}

// MarkReplayed renames a journal file so it is never replayed twice.
func MarkReplayed(path string) error {
	return os.Rename(path, path+".replayed")
}

// PendingJournals lists journal files in dir that have not been replayed,
// oldest first.
func PendingJournals(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "usps_results_*.jsonl"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
