package metrics

// NoOpRecorder discards everything.
// Components default to it so hot paths never check for a nil recorder.
type NoOpRecorder struct{}

func (NoOpRecorder) Add(name string, value float64, tags map[string]string)     {}
func (NoOpRecorder) Observe(name string, value float64, tags map[string]string) {}
