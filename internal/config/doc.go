// Package config provides the process configuration of the proxy and a
// file watcher for the routing rules resource.
//
// The process configuration is YAML with ${VAR:-default} environment
// substitution. The routing rules themselves are JSON and are compiled
// by package rules; this package only watches the file and hands its
// bytes over:
//
//	w, err := config.NewWatcher(cfg.RulesFile, func(data []byte) error {
//	    return router.Reload(data, "file")
//	}, config.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := w.Start(ctx); err != nil {
//	    return err
//	}
package config
