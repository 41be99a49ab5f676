// Package router dispatches inbound requests through the live routing
// table.
//
// A Table is an immutable, ordered list of compiled rules, each bound to
// the handler for its scheme: a proxy.Forwarder for http, https and local
// targets, a proxy.NullForwarder for rules without a target and the
// storage Responder for storage rules. The first rule whose pattern and
// method list accept the request wins.
//
// The Router holds the live table behind an atomic pointer. Reload
// compiles a rules document and swaps the table in one step; a document
// that fails to compile leaves the previous table in place. Requests
// already dispatched keep running against the rule they were given.
//
// # Usage
//
//	rt := router.New(
//	    router.WithLocalAddress(cfg.LocalAddress),
//	    router.WithResponder(storage.NewResponder(store, logger)),
//	    router.WithForwarderOptions(proxy.WithStorage(store)),
//	    router.WithLogger(logger),
//	)
//	if err := rt.Reload(data, router.SourceFile); err != nil {
//	    return err
//	}
//	http.Handle("/", rt)
package router
