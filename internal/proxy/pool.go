package proxy

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/vyrodovalexey/avaproxy/internal/observability"
	"github.com/vyrodovalexey/avaproxy/internal/rules"
)

// Target is where a rule's exchanges are sent.
type Target struct {
	// Scheme is http or https. Local rules use http.
	Scheme string

	// Address is the host:port dialled.
	Address string

	// Host is the Host header value sent to the backend.
	Host string
}

// BaseURL returns scheme://address.
func (t Target) BaseURL() string {
	return t.Scheme + "://" + t.Address
}

// ResolveTarget returns the target of a forwarding rule. Local rules are
// sent to localAddress.
func ResolveTarget(rule *rules.Rule, localAddress string) (Target, error) {
	switch rule.Scheme {
	case rules.SchemeLocal:
		if localAddress == "" {
			return Target{}, NewTargetError(rule.Pattern, ErrNoLocalAddress)
		}
		return Target{Scheme: rules.SchemeHTTP, Address: localAddress, Host: localAddress}, nil
	case rules.SchemeHTTP, rules.SchemeHTTPS:
		host := rule.Host
		if rule.Port != defaultPortFor(rule.Scheme) {
			host = rule.Address()
		}
		return Target{Scheme: rule.Scheme, Address: rule.Address(), Host: host}, nil
	default:
		return Target{}, NewTargetError(rule.Pattern, ErrNoTarget)
	}
}

func defaultPortFor(scheme string) int {
	if scheme == rules.SchemeHTTPS {
		return 443
	}
	return 80
}

// PoolConfig contains connection pool configuration.
type PoolConfig struct {
	IdleConnTimeout       time.Duration
	DialTimeout           time.Duration
	DialKeepAlive         time.Duration
	ExpectContinueTimeout time.Duration
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		IdleConnTimeout:       90 * time.Second,
		DialTimeout:           30 * time.Second,
		DialKeepAlive:         30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Pool is a reference-counted connection pool to one target.
type Pool struct {
	key       string
	target    Target
	transport *http.Transport
	registry  *PoolRegistry

	// refs is guarded by registry.mu.
	refs int
}

// Target returns the target the pool connects to.
func (p *Pool) Target() Target {
	return p.target
}

// Transport returns the HTTP transport.
func (p *Pool) Transport() http.RoundTripper {
	return p.transport
}

// Retain takes an additional reference on the pool.
func (p *Pool) Retain() {
	p.registry.retain(p)
}

// Release drops a reference. The last release closes idle connections
// and removes the pool from its registry.
func (p *Pool) Release() {
	p.registry.release(p)
}

// Refs returns the current reference count.
func (p *Pool) Refs() int {
	p.registry.mu.Lock()
	defer p.registry.mu.Unlock()
	return p.refs
}

// PoolRegistry shares connection pools between rules with the same
// target and pool settings.
type PoolRegistry struct {
	mu     sync.Mutex
	pools  map[string]*Pool
	config PoolConfig
	logger observability.Logger
}

// PoolRegistryOption is a functional option for PoolRegistry.
type PoolRegistryOption func(*PoolRegistry)

// WithPoolConfig sets the transport settings for new pools.
func WithPoolConfig(cfg PoolConfig) PoolRegistryOption {
	return func(r *PoolRegistry) {
		r.config = cfg
	}
}

// WithPoolLogger sets the logger.
func WithPoolLogger(logger observability.Logger) PoolRegistryOption {
	return func(r *PoolRegistry) {
		r.logger = logger
	}
}

// NewPoolRegistry creates an empty PoolRegistry.
func NewPoolRegistry(opts ...PoolRegistryOption) *PoolRegistry {
	r := &PoolRegistry{
		pools:  make(map[string]*Pool),
		config: DefaultPoolConfig(),
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// poolKey identifies pools that can be shared.
func poolKey(target Target, poolSize int, keepAlive bool) string {
	return fmt.Sprintf("%s|%d|%s", target.BaseURL(), poolSize, strconv.FormatBool(keepAlive))
}

// Acquire returns the pool for target with one reference taken,
// creating it on first use.
func (r *PoolRegistry) Acquire(target Target, poolSize int, keepAlive bool) *Pool {
	key := poolKey(target, poolSize, keepAlive)

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pools[key]; ok {
		p.refs++
		getProxyMetrics().poolRefs.Inc()
		return p
	}

	p := &Pool{
		key:       key,
		target:    target,
		transport: r.newTransport(poolSize, keepAlive),
		registry:  r,
		refs:      1,
	}
	r.pools[key] = p
	getProxyMetrics().pools.Inc()
	getProxyMetrics().poolRefs.Inc()

	r.logger.Debug("connection pool created",
		observability.String("pool", key),
	)
	return p
}

func (r *PoolRegistry) newTransport(poolSize int, keepAlive bool) *http.Transport {
	if poolSize < 1 {
		poolSize = rules.DefaultPoolSize
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   r.config.DialTimeout,
			KeepAlive: r.config.DialKeepAlive,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          poolSize,
		MaxIdleConnsPerHost:   poolSize,
		MaxConnsPerHost:       poolSize,
		IdleConnTimeout:       r.config.IdleConnTimeout,
		ExpectContinueTimeout: r.config.ExpectContinueTimeout,
		DisableKeepAlives:     !keepAlive,
		DisableCompression:    true,
	}
}

func (r *PoolRegistry) retain(p *Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A pool that already dropped to zero is revived in place; its
	// transport stays usable.
	if p.refs == 0 {
		if _, ok := r.pools[p.key]; !ok {
			r.pools[p.key] = p
			getProxyMetrics().pools.Inc()
		}
	}
	p.refs++
	getProxyMetrics().poolRefs.Inc()
}

func (r *PoolRegistry) release(p *Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.refs == 0 {
		return
	}
	p.refs--
	getProxyMetrics().poolRefs.Dec()
	if p.refs > 0 {
		return
	}

	if current, ok := r.pools[p.key]; ok && current == p {
		delete(r.pools, p.key)
		getProxyMetrics().pools.Dec()
	}
	p.transport.CloseIdleConnections()

	r.logger.Debug("connection pool closed",
		observability.String("pool", p.key),
	)
}

// Len returns the number of live pools.
func (r *PoolRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pools)
}

// Close closes idle connections of every pool and empties the registry.
func (r *PoolRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, p := range r.pools {
		p.transport.CloseIdleConnections()
		getProxyMetrics().poolRefs.Sub(float64(p.refs))
		getProxyMetrics().pools.Dec()
		p.refs = 0
		delete(r.pools, key)
	}
}
