// Package proxy forwards requests matched by a routing rule to the
// rule's backend.
//
// A Forwarder is bound to one compiled rule and runs the whole exchange:
// target rewriting, optional profile enrichment from storage, header
// assembly, streaming of both bodies, status translation and ETag based
// conditional responses. Failures map to 504 (idle timeout), 503
// (backend unreachable) and 500 (backend stream broken before the
// response was committed).
//
// # Features
//
//   - Capture group rewriting of the target URI
//   - Hop-by-hop header removal per RFC 7230
//   - x-user-* headers resolved from the stored user profile
//   - Idle timeout on the outbound leg, reset on progress
//   - Reference-counted connection pools shared between rules
//   - NullForwarder for rules without a target
//
// # Usage
//
//	registry := proxy.NewPoolRegistry(proxy.WithPoolLogger(logger))
//	target, err := proxy.ResolveTarget(rule, cfg.LocalAddress)
//	if err != nil {
//	    return err
//	}
//	pool := registry.Acquire(target, rule.PoolSize, rule.KeepAlive)
//	defer pool.Release()
//
//	fwd := proxy.NewForwarder(rule, pool,
//	    proxy.WithStorage(store),
//	    proxy.WithAudit(auditLogger),
//	    proxy.WithLogger(logger),
//	)
//	fwd.Handle(w, r, nil)
package proxy
