package limiter

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// accepted requests in any trailing window never exceed that window's limit,
// and consecutive accepted requests are at least one cooldown apart.
func TestMemoryLimiter_WindowInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("trailing windows never exceed their limits", prop.ForAll(
		func(gaps []int64, perMinute int64, perHour int64, perDay int64, cooldownMs int64) bool {
			p := Policy{
				RequestsPerMinute: perMinute,
				RequestsPerHour:   perMinute + perHour,
				RequestsPerDay:    perMinute + perHour + perDay,
				Cooldown:          time.Duration(cooldownMs) * time.Millisecond,
			}
			clock := newFakeClock()
			limiter := newTestLimiter(clock, map[string]Policy{"a": p})
			id := Identity{Action: "a", Key: "k"}

			var accepted []time.Time
			for _, gap := range gaps {
				clock.Advance(time.Duration(gap) * time.Millisecond)
				dec, err := limiter.TryAcquire(id)
				if err != nil {
					return false
				}
				if dec.Allow {
					accepted = append(accepted, clock.Now())
				}
			}

			for j, end := range accepted {
				for _, w := range p.windows() {
					var n int64
					for i := 0; i <= j; i++ {
						if end.Sub(accepted[i]) < w.span {
							n++
						}
					}
					if n > w.limit {
						return false
					}
				}
				if j > 0 && end.Sub(accepted[j-1]) < p.Cooldown {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(80, gen.Int64Range(0, 20*60*1000)),
		gen.Int64Range(1, 5),
		gen.Int64Range(0, 10),
		gen.Int64Range(0, 10),
		gen.Int64Range(0, 5000),
	))

	properties.Property("denied decisions clear after RetryAfter", prop.ForAll(
		func(gaps []int64, perMinute int64, cooldownMs int64) bool {
			p := Policy{
				RequestsPerMinute: perMinute,
				RequestsPerHour:   1000,
				RequestsPerDay:    1000,
				Cooldown:          time.Duration(cooldownMs) * time.Millisecond,
			}
			clock := newFakeClock()
			limiter := newTestLimiter(clock, map[string]Policy{"a": p})
			id := Identity{Action: "a", Key: "k"}

			for _, gap := range gaps {
				clock.Advance(time.Duration(gap) * time.Millisecond)
				dec, _ := limiter.Allow(id)
				if dec.Allow {
					limiter.Record(id)
					continue
				}
				if dec.RetryAfter <= 0 {
					return false
				}
				clock.Advance(dec.RetryAfter)
				if after, _ := limiter.Allow(id); !after.Allow {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(40, gen.Int64Range(0, 30*1000)),
		gen.Int64Range(1, 4),
		gen.Int64Range(0, 3000),
	))

	properties.TestingRun(t)
}
