// Package metrics defines the small recording interface shared by the limiter,
// retry and cache packages, plus a no-op and a Prometheus implementation.
package metrics

// Recorder receives counter increments and distribution observations.
//
// Tags become metric labels. For a given metric name every call must use the
// same set of tag keys.
type Recorder interface {
	Add(name string, value float64, tags map[string]string)
	Observe(name string, value float64, tags map[string]string)
}

// OrNoOp returns r, or a NoOpRecorder when r is nil.
func OrNoOp(r Recorder) Recorder {
	if r == nil {
		return NoOpRecorder{}
	}
	return r
}
