package scenario

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/filecache/pkg/grant"
	"github.com/marmos91/filecache/pkg/objectcache"
)

// Entry is the trace of one finished step.
type Entry struct {
	Step       int           `json:"step" yaml:"step"`
	Op         Op            `json:"op" yaml:"op"`
	File       string        `json:"file,omitempty" yaml:"file,omitempty"`
	Background bool          `json:"background,omitempty" yaml:"background,omitempty"`
	Caps       string        `json:"caps" yaml:"caps"`
	Used       string        `json:"used" yaml:"used"`
	Result     string        `json:"result" yaml:"result"`
	Err        string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

// Trace collects entries from the foreground and background steps.
type Trace struct {
	mu      sync.Mutex
	entries []Entry
}

func (t *Trace) add(e Entry) {
	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
}

// Entries returns the entries in completion order.
func (t *Trace) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}

// Report is the outcome of one run.
type Report struct {
	ID       uuid.UUID         `json:"id" yaml:"id"`
	Name     string            `json:"name" yaml:"name"`
	Entries  []Entry           `json:"entries" yaml:"entries"`
	Breaks   []grant.Break     `json:"breaks" yaml:"breaks"`
	Stats    objectcache.Stats `json:"stats" yaml:"stats"`
	Duration time.Duration     `json:"duration" yaml:"duration"`
}

// Headers implements the table renderer used by the CLI.
func (r *Report) Headers() []string {
	return []string{"#", "Op", "File", "Caps", "Used", "Result", "Took"}
}

// Rows implements the table renderer used by the CLI.
func (r *Report) Rows() [][]string {
	rows := make([][]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		op := string(e.Op)
		if e.Background {
			op += " &"
		}
		result := e.Result
		if e.Err != "" {
			result = "ERROR " + e.Err
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", e.Step),
			op,
			e.File,
			e.Caps,
			e.Used,
			result,
			e.Duration.Round(time.Microsecond).String(),
		})
	}
	return rows
}

// Failed reports whether any step recorded an error.
func (r *Report) Failed() bool {
	for _, e := range r.Entries {
		if e.Err != "" {
			return true
		}
	}
	return false
}
