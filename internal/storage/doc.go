// Package storage provides the key-value resource storage used for user
// profile lookups and for answering storage rules.
//
// Two backends are available: an in-process map and Redis. Both record
// OpenTelemetry spans and Prometheus metrics per operation.
package storage
