package tracking

import "errors"

// ErrDetectionTransient marks a single failed detection pass. It is never
// returned from Process; the previous tracked set is kept and the failure
// is recorded in Stats.
var ErrDetectionTransient = errors.New("tracking: transient detection failure")
