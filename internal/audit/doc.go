// Package audit records proxied exchanges and routing table reloads.
//
// Events are written as JSON lines to stdout, stderr or a file. Sensitive
// headers are redacted and captured bodies are cut at a configurable
// size:
//
//	logger, err := audit.NewLogger(cfg.Audit,
//	    audit.WithLoggerLogger(log),
//	    audit.WithLoggerRegisterer(metrics.Registry()),
//	)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
package audit
