// Package outbound is the call path for quota-constrained third-party APIs.
// It wires a limiter.RateLimiter, a retry.Strategy and a cache.TTLCache
// together; each of them stays usable on its own.
//
//	c := outbound.NewClient(lim, outbound.WithRetry(strategy), outbound.WithCache(tc))
//	key, _ := outbound.CacheKey("network_read", params)
//	data, err := outbound.Call(ctx, c, outbound.Request{
//		Action:   "network_read",
//		Key:      "awin",
//		CacheKey: key,
//		CacheTTL: time.Hour,
//	}, fetch)
//	if errors.Is(err, outbound.ErrRateLimited) {
//		// queue, skip or surface
//	}
package outbound
