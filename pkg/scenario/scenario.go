// Package scenario replays scripted workloads against file caches that share
// one lock, one object cache and one grant manager.
//
// A scenario is a YAML document listing the files involved and the steps to
// run. Steps execute in order; a step marked background runs on its own
// goroutine until the next sync step waits for it. Every step leaves a trace
// entry recording the file's capabilities and usage after it finished.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marmos91/filecache/pkg/caps"
)

// Op names a step.
type Op string

const (
	OpIssue    Op = "issue"
	OpRevoke   Op = "revoke"
	OpRead     Op = "read"
	OpWrite    Op = "write"
	OpFlush    Op = "flush"
	OpRelease  Op = "release"
	OpEmpty    Op = "empty"
	OpWaitSafe Op = "wait_safe"
	OpCheck    Op = "check"
	OpSleep    Op = "sleep"
	OpSync     Op = "sync"
)

var validOps = map[Op]bool{
	OpIssue: true, OpRevoke: true, OpRead: true, OpWrite: true,
	OpFlush: true, OpRelease: true, OpEmpty: true, OpWaitSafe: true,
	OpCheck: true, OpSleep: true, OpSync: true,
}

// ErrInvalidScenario wraps every parse and validation failure.
var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario is a parsed scenario document.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Files       []File `yaml:"files"`
	Steps       []Step `yaml:"steps"`
}

// File declares one file the steps can refer to.
type File struct {
	Name string `yaml:"name"`
	Ino  uint64 `yaml:"ino"`

	// Caps is the initial grant; nil uses the runner default.
	Caps *caps.Cap `yaml:"caps,omitempty"`
}

// Step is one action.
type Step struct {
	Op   Op     `yaml:"op"`
	File string `yaml:"file,omitempty"`

	// Caps is the mask for issue and revoke.
	Caps caps.Cap `yaml:"caps,omitempty"`

	// Offset and Length position reads and writes. Writes take their
	// payload from Data, or Length copies of Fill when Data is empty.
	Offset int64  `yaml:"offset,omitempty"`
	Length int    `yaml:"length,omitempty"`
	Data   string `yaml:"data,omitempty"`
	Fill   string `yaml:"fill,omitempty"`

	// Expect is compared with the bytes a read returns.
	Expect *string `yaml:"expect,omitempty"`

	// NoWait returns from flush, empty and wait_safe as soon as the request
	// is queued instead of waiting for the completion.
	NoWait bool `yaml:"no_wait,omitempty"`

	// Background runs the step on its own goroutine.
	Background bool `yaml:"background,omitempty"`

	// Duration is the sleep length.
	Duration time.Duration `yaml:"duration,omitempty"`

	// Check holds the assertions of a check step.
	Check *Check `yaml:"check,omitempty"`
}

// Check asserts file state. Nil fields are not checked.
type Check struct {
	Caps        *caps.Cap `yaml:"caps,omitempty"`
	Used        *caps.Cap `yaml:"used,omitempty"`
	Pending     *int      `yaml:"pending,omitempty"`
	Cached      *bool     `yaml:"cached,omitempty"`
	Dirty       *bool     `yaml:"dirty,omitempty"`
	Safe        *bool     `yaml:"safe,omitempty"`
	Outstanding *int      `yaml:"outstanding,omitempty"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks file references and per-op required fields.
func (s *Scenario) Validate() error {
	files := make(map[string]bool, len(s.Files))
	inos := make(map[uint64]bool, len(s.Files))
	for i, f := range s.Files {
		if f.Name == "" {
			return fmt.Errorf("%w: file %d has no name", ErrInvalidScenario, i)
		}
		if files[f.Name] {
			return fmt.Errorf("%w: duplicate file %q", ErrInvalidScenario, f.Name)
		}
		if inos[f.Ino] {
			return fmt.Errorf("%w: duplicate ino %d", ErrInvalidScenario, f.Ino)
		}
		files[f.Name] = true
		inos[f.Ino] = true
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidScenario)
	}

	for i, st := range s.Steps {
		if !validOps[st.Op] {
			return fmt.Errorf("%w: step %d: unknown op %q", ErrInvalidScenario, i, st.Op)
		}
		needsFile := st.Op != OpSleep && st.Op != OpSync
		if needsFile && !files[st.File] {
			return fmt.Errorf("%w: step %d (%s): unknown file %q", ErrInvalidScenario, i, st.Op, st.File)
		}
		if st.Offset < 0 {
			return fmt.Errorf("%w: step %d (%s): negative offset", ErrInvalidScenario, i, st.Op)
		}

		switch st.Op {
		case OpIssue, OpRevoke:
			if st.Caps == caps.None {
				return fmt.Errorf("%w: step %d (%s): caps required", ErrInvalidScenario, i, st.Op)
			}
		case OpRead:
			if st.Length <= 0 {
				return fmt.Errorf("%w: step %d (read): length required", ErrInvalidScenario, i)
			}
		case OpWrite:
			if st.Data == "" && (st.Length <= 0 || len(st.Fill) != 1) {
				return fmt.Errorf("%w: step %d (write): data, or length with a one-character fill, required",
					ErrInvalidScenario, i)
			}
		case OpSleep:
			if st.Duration <= 0 {
				return fmt.Errorf("%w: step %d (sleep): duration required", ErrInvalidScenario, i)
			}
		case OpCheck:
			if st.Check == nil {
				return fmt.Errorf("%w: step %d (check): no assertions", ErrInvalidScenario, i)
			}
			if st.Background {
				return fmt.Errorf("%w: step %d (check): cannot run in background", ErrInvalidScenario, i)
			}
		case OpSync:
			if st.Background {
				return fmt.Errorf("%w: step %d (sync): cannot run in background", ErrInvalidScenario, i)
			}
		}
	}
	return nil
}

// payload returns the bytes a write step writes.
func (st Step) payload() []byte {
	if st.Data != "" {
		return []byte(st.Data)
	}
	b := make([]byte, st.Length)
	for i := range b {
		b[i] = st.Fill[0]
	}
	return b
}
