package outbound_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/manenim/outbound-guard/pkg/limiter"
	"github.com/manenim/outbound-guard/pkg/outbound"
)

func ExampleCall() {
	lim := limiter.NewMemoryLimiter(limiter.WithPolicies(map[string]limiter.Policy{
		"registrar_call": {RequestsPerMinute: 1, RequestsPerHour: 5, RequestsPerDay: 20, Cooldown: time.Minute},
	}))
	client := outbound.NewClient(lim)
	req := outbound.Request{Action: "registrar_call", Key: "godaddy"}

	check := func(context.Context) (bool, error) { return true, nil }

	available, err := outbound.Call(context.Background(), client, req, check)
	fmt.Println(available, err)

	_, err = outbound.Call(context.Background(), client, req, check)
	fmt.Println(errors.Is(err, outbound.ErrRateLimited))
	// Output:
	// true <nil>
	// true
}
