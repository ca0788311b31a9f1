package cache_test

import (
	"fmt"
	"time"

	"github.com/manenim/outbound-guard/pkg/cache"
)

func ExampleTTLCache() {
	analytics := cache.NewAnalytics()
	merchants := cache.New[string, []string](cache.WithAnalytics(analytics), cache.WithNamespace("awin"))

	merchants.Set("programmes:uk", []string{"acme", "globex"}, time.Minute)

	for range 3 {
		merchants.Get("programmes:uk")
	}
	merchants.Get("programmes:de")

	fmt.Println(analytics.Stats().HitRate)
	// Output: 0.75
}
