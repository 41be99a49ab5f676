// Package health provides the health, readiness and liveness endpoints
// served next to the metrics endpoint.
//
// Readiness aggregates registered checks. The proxy registers a check on
// the routing table and one on the resource storage:
//
//	checker := health.NewChecker(version, logger)
//	checker.RegisterCheck("rules", health.RulesCheck(rt.Table().Len))
//	checker.RegisterCheck("storage", health.StorageCheck(store, time.Second))
package health
