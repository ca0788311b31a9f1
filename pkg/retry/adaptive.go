package retry

import (
	"sync"
	"time"
)

// AdaptiveConfig tunes the adaptive preset. Base is the policy it starts
// from; only InitialDelay (and MaxDelay, when needed to stay valid) changes.
type AdaptiveConfig struct {
	Base       Policy
	Window     int
	MinSamples int
	Floor      time.Duration
	Ceiling    time.Duration
}

func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		Base:       AdaptiveBaseline,
		Window:     20,
		MinSamples: 5,
		Floor:      100 * time.Millisecond,
		Ceiling:    5 * time.Second,
	}
}

func (c AdaptiveConfig) withDefaults() AdaptiveConfig {
	d := DefaultAdaptiveConfig()
	if c.Base == (Policy{}) {
		c.Base = d.Base
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
	if c.MinSamples > c.Window {
		c.MinSamples = c.Window
	}
	if c.Floor <= 0 {
		c.Floor = d.Floor
	}
	if c.Ceiling < c.Floor {
		c.Ceiling = max(d.Ceiling, c.Floor)
	}
	return c
}

// outcomes is a fixed-size ring of attempt results, true meaning a
// transient failure.
type outcomes struct {
	buf      []bool
	next     int
	size     int
	failures int
}

func (o *outcomes) push(failed bool) {
	if o.size == len(o.buf) {
		if o.buf[o.next] {
			o.failures--
		}
	} else {
		o.size++
	}
	o.buf[o.next] = failed
	if failed {
		o.failures++
	}
	o.next = (o.next + 1) % len(o.buf)
}

type adaptiveTracker struct {
	cfg AdaptiveConfig

	mu         sync.Mutex
	categories map[string]*outcomes
}

func newAdaptiveTracker(cfg AdaptiveConfig) *adaptiveTracker {
	return &adaptiveTracker{cfg: cfg.withDefaults(), categories: make(map[string]*outcomes)}
}

func (t *adaptiveTracker) record(category string, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o := t.categories[category]
	if o == nil {
		o = &outcomes{buf: make([]bool, t.cfg.Window)}
		t.categories[category] = o
	}
	o.push(failed)
}

func (t *adaptiveTracker) rate(category string) (float64, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o := t.categories[category]
	if o == nil || o.size == 0 {
		return 0, 0
	}
	return float64(o.failures) / float64(o.size), o.size
}

// policy scales the base InitialDelay by 0.5 + 2*rate: a clean record halves
// it, a 25% failure rate keeps it, constant failure multiplies it by 2.5.
// Too few samples leave the base untouched.
func (t *adaptiveTracker) policy(category string) Policy {
	p := t.cfg.Base
	r, n := t.rate(category)
	if n < t.cfg.MinSamples {
		return p
	}

	d := time.Duration(float64(p.InitialDelay) * (0.5 + 2*r))
	d = min(max(d, t.cfg.Floor), t.cfg.Ceiling)
	p.InitialDelay = d
	if p.MaxDelay < d {
		p.MaxDelay = d
	}
	return p
}
