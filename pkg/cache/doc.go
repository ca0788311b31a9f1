// Package cache provides a generic in-memory TTL cache and the Analytics
// observer that counts its hits and misses.
//
// Entries expire lazily: Get treats an expired entry as a miss and removes
// it. StartSweeper adds a single periodic sweep per cache for entries that
// are never read again; there is no timer per entry.
//
// One Analytics instance can observe many caches (WithAnalytics), so hit
// rates survive Clear and can be reset on their own. Publisher exports its
// reports to Redis.
package cache
