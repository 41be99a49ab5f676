package health

import (
	"context"
	"fmt"
	"time"

	"github.com/vyrodovalexey/avaproxy/internal/storage"
)

// probeKey is looked up by StorageCheck. A miss is a healthy answer.
var probeKey = storage.Key("health", "/probe")

// RulesCheck reports degraded while the routing table is empty.
func RulesCheck(count func() int) CheckFunc {
	return func(context.Context) Check {
		n := count()
		if n == 0 {
			return Check{Status: StatusDegraded, Message: "routing table is empty"}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%d rules", n)}
	}
}

// StorageCheck reports unhealthy when the resource storage cannot answer
// a lookup within timeout.
func StorageCheck(store storage.ResourceStorage, timeout time.Duration) CheckFunc {
	return func(ctx context.Context) Check {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if _, _, err := store.Get(ctx, probeKey); err != nil {
			return Check{Status: StatusUnhealthy, Message: err.Error()}
		}
		return Check{Status: StatusHealthy}
	}
}
