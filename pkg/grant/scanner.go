package grant

import (
	"sync"
	"time"

	"github.com/marmos91/filecache/internal/logger"
)

const (
	// DefaultBreakTimeout is how long a break may stay unacknowledged before
	// it is reported.
	DefaultBreakTimeout = 30 * time.Second

	// DefaultScanInterval is how often the Scanner looks for overdue breaks.
	DefaultScanInterval = time.Second
)

// Scanner reports breaks that stay outstanding past the timeout.
//
// There is no authority to force a revoke against, so an overdue break is
// logged, counted and handed to the callback; it stays outstanding until
// the file cache acknowledges it.
type Scanner struct {
	manager      *Manager
	onOverdue    func(Break)
	timeout      time.Duration
	scanInterval time.Duration

	stop    chan struct{}
	stopped chan struct{}
	mu      sync.Mutex
	running bool
}

// NewScanner returns a stopped Scanner. Zero durations take the defaults.
// onOverdue may be nil.
func NewScanner(m *Manager, timeout, scanInterval time.Duration, onOverdue func(Break)) *Scanner {
	if timeout <= 0 {
		timeout = DefaultBreakTimeout
	}
	if scanInterval <= 0 {
		scanInterval = DefaultScanInterval
	}
	return &Scanner{
		manager:      m,
		onOverdue:    onOverdue,
		timeout:      timeout,
		scanInterval: scanInterval,
	}
}

// Start begins the background scan loop. Calling it on a running scanner
// does nothing.
func (s *Scanner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})
	s.mu.Unlock()

	go s.scanLoop(s.stop, s.stopped)
}

// Stop ends the scan loop and waits for it to exit. Safe to call more than
// once.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	stopped := s.stopped
	s.mu.Unlock()

	<-stopped
}

// IsRunning reports whether the loop is active.
func (s *Scanner) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetTimeout changes the timeout used by later scans.
func (s *Scanner) SetTimeout(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = timeout
}

// Timeout returns the current break timeout.
func (s *Scanner) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

func (s *Scanner) scanLoop(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(s.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Scan(s.manager.now())
		}
	}
}

// Scan reports every break that started more than the timeout before now
// and has not been reported yet. It returns the newly overdue breaks.
func (s *Scanner) Scan(now time.Time) []Break {
	timeout := s.Timeout()

	overdue := s.manager.markOverdue(now.Add(-timeout))
	for _, b := range overdue {
		logger.Warn("grant break overdue",
			logger.KeyBreakID, b.ID.String(), logger.Ino(b.Ino),
			"lost", b.Lost().String(), "started", b.Started, "timeout", timeout)
		if s.manager.metrics != nil {
			s.manager.metrics.BreakOverdue()
		}
		if s.onOverdue != nil {
			s.onOverdue(b)
		}
	}
	return overdue
}
