package cache

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TTLCache behaves like a map of (value, expiry) under arbitrary operation
// sequences, and hits plus misses always equals the number of Gets.
func TestTTLCache_ModelProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		clock := newFakeClock()
		c := New[int, int](WithClock(clock.Now))

		type modelEntry struct {
			value     int
			expiresAt time.Time
		}
		model := map[int]modelEntry{}
		var gets uint64

		t.Repeat(map[string]func(*rapid.T){
			"set": func(t *rapid.T) {
				k := rapid.IntRange(0, 7).Draw(t, "key")
				v := rapid.Int().Draw(t, "value")
				ttl := time.Duration(rapid.IntRange(-5, 100).Draw(t, "ttlMs")) * time.Millisecond
				c.Set(k, v, ttl)
				if ttl <= 0 {
					delete(model, k)
					return
				}
				model[k] = modelEntry{value: v, expiresAt: clock.Now().Add(ttl)}
			},
			"get": func(t *rapid.T) {
				k := rapid.IntRange(0, 7).Draw(t, "key")
				got, ok := c.Get(k)
				gets++
				want, present := model[k]
				live := present && clock.Now().Before(want.expiresAt)
				if ok != live {
					t.Fatalf("Get(%d) ok=%v, model says %v", k, ok, live)
				}
				if live && got != want.value {
					t.Fatalf("Get(%d) = %d, want %d", k, got, want.value)
				}
				if present && !live {
					delete(model, k)
				}
			},
			"delete": func(t *rapid.T) {
				k := rapid.IntRange(0, 7).Draw(t, "key")
				c.Delete(k)
				delete(model, k)
			},
			"advance": func(t *rapid.T) {
				clock.Advance(time.Duration(rapid.IntRange(0, 60).Draw(t, "ms")) * time.Millisecond)
			},
			"sweep": func(t *rapid.T) {
				c.Sweep()
				for k, e := range model {
					if !clock.Now().Before(e.expiresAt) {
						delete(model, k)
					}
				}
			},
			"": func(t *rapid.T) {
				if c.Len() != len(model) {
					t.Fatalf("Len() = %d, model has %d", c.Len(), len(model))
				}
				st := c.Analytics().Stats()
				if st.Hits+st.Misses != gets {
					t.Fatalf("hits+misses = %d, gets = %d", st.Hits+st.Misses, gets)
				}
			},
		})
	})
}
