package router

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/avaproxy/internal/audit"
	"github.com/vyrodovalexey/avaproxy/internal/observability"
	"github.com/vyrodovalexey/avaproxy/internal/proxy"
	"github.com/vyrodovalexey/avaproxy/internal/rules"
	"github.com/vyrodovalexey/avaproxy/internal/storage"
	"github.com/vyrodovalexey/avaproxy/internal/util"
)

// Reload sources.
const (
	SourceFile  = "file"
	SourceAdmin = "admin"
)

// ErrNoResponder indicates a storage rule without a configured storage.
var ErrNoResponder = errors.New("no storage configured for storage rules")

// Router owns the live routing table.
type Router struct {
	table atomic.Pointer[Table]

	// reloadMu serializes table builds; lookups never take it.
	reloadMu sync.Mutex

	factory      *rules.Factory
	pools        *proxy.PoolRegistry
	responder    *storage.Responder
	localAddress string
	proxyOpts    []proxy.Option
	metrics      *observability.Metrics
	audit        audit.Logger
	logger       observability.Logger
}

// Option is a functional option for Router.
type Option func(*Router)

// WithFactory sets the rules compiler.
func WithFactory(factory *rules.Factory) Option {
	return func(rt *Router) {
		rt.factory = factory
	}
}

// WithPoolRegistry sets the connection pool registry.
func WithPoolRegistry(pools *proxy.PoolRegistry) Option {
	return func(rt *Router) {
		rt.pools = pools
	}
}

// WithResponder sets the responder for storage rules.
func WithResponder(responder *storage.Responder) Option {
	return func(rt *Router) {
		rt.responder = responder
	}
}

// WithLocalAddress sets the address local rules are sent to.
func WithLocalAddress(addr string) Option {
	return func(rt *Router) {
		rt.localAddress = addr
	}
}

// WithForwarderOptions sets the options every forwarder is built with.
func WithForwarderOptions(opts ...proxy.Option) Option {
	return func(rt *Router) {
		rt.proxyOpts = append(rt.proxyOpts, opts...)
	}
}

// WithMetrics sets the process metrics reloads are recorded on.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(rt *Router) {
		rt.metrics = metrics
	}
}

// WithAudit sets the audit logger reloads are recorded on.
func WithAudit(logger audit.Logger) Option {
	return func(rt *Router) {
		rt.audit = logger
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(rt *Router) {
		rt.logger = logger
	}
}

// New creates a Router with an empty table.
func New(opts ...Option) *Router {
	rt := &Router{
		audit:  audit.NewNoopLogger(),
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.factory == nil {
		rt.factory = rules.NewFactory(rules.WithLogger(rt.logger))
	}
	if rt.pools == nil {
		rt.pools = proxy.NewPoolRegistry(proxy.WithPoolLogger(rt.logger))
	}
	rt.table.Store(&Table{loaded: time.Now()})
	return rt
}

// Table returns the live table.
func (rt *Router) Table() *Table {
	return rt.table.Load()
}

// Match looks up the live table.
func (rt *Router) Match(method, uri string) (*rules.Rule, []string, bool) {
	return rt.table.Load().Match(method, uri)
}

// Reload compiles data and makes it the live table. On any error the
// live table is left untouched.
func (rt *Router) Reload(data []byte, source string) error {
	rt.reloadMu.Lock()
	defer rt.reloadMu.Unlock()

	table, err := rt.build(data, source)
	if err != nil {
		rt.logger.Warn("routing table reload rejected",
			observability.String("source", source),
			observability.Error(err),
		)
		rt.recordReload(source, 0, err)
		return err
	}

	rt.Swap(table)
	rt.logger.Info("routing table loaded",
		observability.String("source", source),
		observability.Int("rules", table.Len()),
	)
	rt.recordReload(source, table.Len(), nil)
	return nil
}

func (rt *Router) recordReload(source string, n int, err error) {
	if rt.metrics != nil {
		rt.metrics.RecordReload(source, err == nil, n)
	}
	rt.audit.RecordReload(context.Background(), source, n, err)
}

// Swap makes table the live table and releases the previous one. In
// flight exchanges hold their own pool references.
func (rt *Router) Swap(table *Table) {
	old := rt.table.Swap(table)
	getDispatchMetrics().tableSwaps.Inc()
	if old != nil && old != table {
		old.release()
	}
}

// build compiles data into a table. Pools taken for a table that fails
// to build are released.
func (rt *Router) build(data []byte, source string) (*Table, error) {
	compiled, err := rt.factory.Compile(data)
	if err != nil {
		return nil, err
	}

	table := &Table{
		entries: make([]entry, 0, len(compiled)),
		raw:     append([]byte(nil), data...),
		source:  source,
		loaded:  time.Now(),
	}
	for _, rule := range compiled {
		e, err := rt.bind(rule)
		if err != nil {
			table.release()
			return nil, err
		}
		table.entries = append(table.entries, e)
	}
	return table, nil
}

// bind picks the handler for a rule.
func (rt *Router) bind(rule *rules.Rule) (entry, error) {
	switch {
	case rule.Scheme == rules.SchemeStorage:
		if rt.responder == nil {
			return entry{}, util.NewRuleError(rule.Pattern, "storage", "cannot serve storage rule", ErrNoResponder)
		}
		return entry{
			rule:    rule,
			kind:    KindStorage,
			handler: storageHandler{responder: rt.responder, rule: rule},
		}, nil
	case rule.IsRemote():
		target, err := proxy.ResolveTarget(rule, rt.localAddress)
		if err != nil {
			return entry{}, util.NewRuleError(rule.Pattern, "path", "cannot resolve target", err)
		}
		pool := rt.pools.Acquire(target, rule.PoolSize, rule.KeepAlive)
		return entry{
			rule:    rule,
			kind:    KindForward,
			handler: proxy.NewForwarder(rule, pool, rt.proxyOpts...),
			pool:    pool,
		}, nil
	default:
		return entry{
			rule:    rule,
			kind:    KindNull,
			handler: proxy.NewNullForwarder(rule, rt.proxyOpts...),
		}, nil
	}
}

// TryHandle dispatches r through the live table. It reports false when
// no rule matched and nothing was written.
func (rt *Router) TryHandle(w http.ResponseWriter, r *http.Request) bool {
	table := rt.table.Load()
	e, _, ok := table.lookup(r.Method, util.RequestURI(r))
	if !ok {
		getDispatchMetrics().missesTotal.Inc()
		return false
	}
	getDispatchMetrics().dispatchTotal.WithLabelValues(string(e.kind)).Inc()

	observability.AnnotateRule(r.Context(), e.rule.MetricLabel())
	ctx := util.ContextWithRule(r.Context(), e.rule.Pattern)
	e.handler.Handle(w, r.WithContext(ctx), nil)
	return true
}

// ServeHTTP implements http.Handler, answering 404 when no rule matched.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if rt.TryHandle(w, r) {
		return
	}

	err := util.NewRouteNotFoundError(r.Method, util.RequestURI(r))
	rt.logger.Debug("request not routed", observability.Error(err))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, `{"error":"not found","message":"no matching rule"}`)
}

// Close releases the live table and every pool.
func (rt *Router) Close() {
	rt.reloadMu.Lock()
	defer rt.reloadMu.Unlock()

	if old := rt.table.Swap(&Table{loaded: time.Now()}); old != nil {
		old.release()
	}
	rt.pools.Close()
}
