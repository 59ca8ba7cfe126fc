package filecache

import (
	"time"

	"github.com/marmos91/filecache/pkg/caps"
)

// I/O path labels reported to Metrics and logs.
const (
	PathCache  = "cache"
	PathBypass = "bypass"
)

// Metrics receives observations from FileCache. A nil Metrics disables
// collection. See pkg/metrics for the Prometheus implementation.
type Metrics interface {
	// ObserveIO records a completed read or write.
	ObserveIO(op, path string, bytes int, duration time.Duration, err error)

	// ObserveSuspend records time spent with the shared lock released,
	// waiting on a read completion or write admission.
	ObserveSuspend(reason string, duration time.Duration)

	// RecordCapsChange records a capability update and the bits it dropped.
	RecordCapsChange(lost caps.Cap)

	// RecordCallbacksFired records how many downgrade callbacks fired in one
	// re-evaluation.
	RecordCallbacksFired(n int)
}
