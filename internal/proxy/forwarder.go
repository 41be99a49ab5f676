package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avaproxy/internal/audit"
	"github.com/vyrodovalexey/avaproxy/internal/monitoring"
	"github.com/vyrodovalexey/avaproxy/internal/observability"
	"github.com/vyrodovalexey/avaproxy/internal/rules"
	"github.com/vyrodovalexey/avaproxy/internal/storage"
	"github.com/vyrodovalexey/avaproxy/internal/util"
)

// proxyTracerName is the OpenTelemetry tracer name for outbound calls.
const proxyTracerName = "avaproxy/proxy"

const streamBufferSize = 32 * 1024

// state is the lifecycle step of one exchange.
type state int32

// Exchange states.
const (
	stateReceived state = iota
	stateProfileLookup
	stateHeadersReady
	stateStreamingRequest
	stateAwaitingResponse
	stateStreamingResponse
	stateConditionalCheck
	stateDone
	stateError
)

var stateNames = [...]string{
	"received",
	"profile_lookup",
	"headers_ready",
	"streaming_request",
	"awaiting_response",
	"streaming_response",
	"conditional_check",
	"done",
	"error",
}

func (s state) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Forwarder proxies requests matched by one rule to its target. It is
// safe for concurrent use; per-request state lives in an exchange.
type Forwarder struct {
	rule   *rules.Rule
	pool   *Pool
	opts   *options
	tracer trace.Tracer
}

// NewForwarder creates a Forwarder for rule sending over pool. The caller
// keeps its own reference on pool for as long as the Forwarder is in use.
func NewForwarder(rule *rules.Rule, pool *Pool, opts ...Option) *Forwarder {
	return &Forwarder{
		rule:   rule,
		pool:   pool,
		opts:   buildOptions(opts),
		tracer: otel.Tracer(proxyTracerName),
	}
}

// Rule returns the rule the forwarder is bound to.
func (f *Forwarder) Rule() *rules.Rule {
	return f.rule
}

// Pool returns the connection pool the forwarder sends over.
func (f *Forwarder) Pool() *Pool {
	return f.pool
}

// Handle runs one exchange. body, when non-nil, is the already consumed
// request body and is sent instead of reading r.Body.
func (f *Forwarder) Handle(w http.ResponseWriter, r *http.Request, body []byte) {
	f.pool.Retain()
	defer f.pool.Release()

	ex := f.newExchange(w, r, body)
	defer ex.finish()

	ex.run()
}

// exchange is the state of one request/response cycle.
type exchange struct {
	f      *Forwarder
	w      http.ResponseWriter
	r      *http.Request
	body   []byte
	uri    string
	target string
	user   string
	label  string
	logger observability.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	idle     *idleTimer
	timedOut atomic.Bool
	state    atomic.Int32

	token monitoring.Token
	span  trace.Span

	reqCapture  *captureBuffer
	respCapture *captureBuffer
	respHeader  http.Header
	respSize    int64

	status    int
	finalized bool
	err       error
}

func (f *Forwarder) newExchange(w http.ResponseWriter, r *http.Request, body []byte) *exchange {
	uri := util.RequestURI(r)
	target := f.rule.TargetURI(uri)
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}

	ex := &exchange{
		f:           f,
		w:           w,
		r:           r,
		body:        body,
		uri:         uri,
		target:      target,
		user:        userID(r.Header),
		label:       f.rule.MetricLabel(),
		reqCapture:  newCaptureBuffer(f.opts.captureBytes),
		respCapture: newCaptureBuffer(f.opts.captureBytes),
	}
	ex.logger = f.opts.logger.WithContext(r.Context()).With(
		observability.Rule(f.rule.Pattern),
		observability.Target(target),
	)

	ex.token = f.opts.monitor.StartTracking(ex.label, uri)

	// Derived from the inbound context so a client disconnect cancels the
	// backend call.
	ctx, cancel := context.WithCancel(r.Context())
	ctx, ex.span = f.tracer.Start(ctx, "proxy "+ex.label,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			observability.RuleAttribute.String(f.rule.Pattern),
			attribute.String("server.address", f.pool.Target().Address),
			attribute.String("url.path", target),
		),
	)
	ex.ctx = ctx
	ex.cancel = cancel

	timeout := f.rule.Timeout
	if timeout <= 0 {
		timeout = rules.DefaultTimeout
	}
	ex.idle = newIdleTimer(timeout, func() {
		ex.timedOut.Store(true)
		cancel()
	})
	return ex
}

func (ex *exchange) setState(s state) {
	ex.state.Store(int32(s))
}

func (ex *exchange) currentState() state {
	return state(ex.state.Load())
}

func (ex *exchange) run() {
	profile := ex.lookupProfile()
	ex.setState(stateHeadersReady)

	outReq, err := ex.buildRequest(profile)
	if err != nil {
		ex.fail(NewProxyError("build_request", ex.f.rule.Pattern, ex.target, "invalid outbound request", err), http.StatusBadGateway)
		return
	}

	start := time.Now()
	resp, err := ex.f.pool.transport.RoundTrip(outReq)
	if err != nil {
		ex.fail(ex.classify(err, util.UpstreamUnavailable), 0)
		return
	}
	defer resp.Body.Close()

	ex.idle.touch()
	ex.setState(stateAwaitingResponse)
	getProxyMetrics().backendDuration.WithLabelValues(ex.label).Observe(time.Since(start).Seconds())

	ex.respond(resp)
}

// lookupProfile resolves the profile fields of the rule for the request
// user. Any failure yields no headers.
func (ex *exchange) lookupProfile() http.Header {
	rule := ex.f.rule
	store := ex.f.opts.store
	if len(rule.Profile) == 0 || ex.user == "" || store == nil {
		return nil
	}
	ex.setState(stateProfileLookup)

	key := storage.Key("", fmt.Sprintf(ex.f.opts.profileTemplate, url.PathEscape(ex.user)))
	value, ok, err := store.Get(ex.ctx, key)
	if err != nil {
		ex.logger.Warn("profile lookup failed, forwarding without profile",
			observability.String("key", key),
			observability.Error(err),
		)
		return nil
	}
	if !ok {
		ex.logger.Debug("no profile stored", observability.String("key", key))
		return nil
	}
	if !gjson.ValidBytes(value) {
		ex.logger.Warn("stored profile is not valid JSON", observability.String("key", key))
		return nil
	}

	h := make(http.Header, len(rule.Profile))
	for _, field := range rule.Profile {
		if res := gjson.GetBytes(value, field); res.Exists() {
			h.Set(HeaderUserPrefix+field, res.String())
		}
	}
	return h
}

func (ex *exchange) buildRequest(profile http.Header) (*http.Request, error) {
	var (
		reqBody       io.Reader
		contentLength int64
	)
	switch {
	case ex.body != nil:
		_, _ = ex.reqCapture.Write(ex.body)
		reqBody = &progressReader{
			r:     bytes.NewReader(ex.body),
			onEOF: func() { ex.setState(stateAwaitingResponse) },
		}
		contentLength = int64(len(ex.body))
	case ex.r.Body != nil && ex.r.Body != http.NoBody && ex.r.ContentLength != 0:
		reqBody = &progressReader{
			r:      io.TeeReader(ex.r.Body, ex.reqCapture),
			onRead: ex.idle.touch,
			onEOF:  func() { ex.setState(stateAwaitingResponse) },
		}
		contentLength = ex.r.ContentLength
	}

	target := ex.f.pool.Target()
	outReq, err := http.NewRequestWithContext(ex.ctx, ex.r.Method, target.BaseURL()+ex.target, reqBody)
	if err != nil {
		return nil, err
	}
	outReq.ContentLength = contentLength
	if reqBody == nil {
		outReq.Body = http.NoBody
	}

	outReq.Header = outboundHeader(ex.r, ex.f.rule, target, profile)
	outReq.Host = outReq.Header.Get("Host")
	outReq.Header.Del("Host")

	observability.InjectTraceContext(ex.ctx, outReq)

	if reqBody == nil {
		ex.setState(stateAwaitingResponse)
	} else {
		ex.setState(stateStreamingRequest)
	}
	return outReq, nil
}

// classify turns a transport or body error into the exchange error.
func (ex *exchange) classify(err error, kind util.UpstreamKind) error {
	rule := ex.f.rule
	switch {
	case ex.timedOut.Load():
		return util.NewUpstreamTimeoutError(rule.Pattern, ex.target, rule.Timeout)
	case ex.r.Context().Err() != nil:
		return NewProxyError("forward", rule.Pattern, ex.target, "client went away", ErrClientGone)
	default:
		return util.NewUpstreamError(kind, rule.Pattern, ex.target, err)
	}
}

// respond writes the backend response to the client.
func (ex *exchange) respond(resp *http.Response) {
	status := ex.f.rule.TranslateResponseStatus(ex.r.Header, resp.StatusCode)
	if status != resp.StatusCode {
		ex.logger.Debug("status translated",
			observability.Int("backend_status", resp.StatusCode),
			observability.Int("status", status),
		)
	}

	if etag := resp.Header.Get("Etag"); etag != "" {
		ex.setState(stateConditionalCheck)
		ex.respondConditional(resp, status, etag)
		return
	}

	ex.setState(stateStreamingResponse)
	ex.streamResponse(resp, status)
}

// respondConditional buffers the body of a response carrying an ETag and
// answers 304 when the client already holds it.
func (ex *exchange) respondConditional(resp *http.Response, status int, etag string) {
	data, err := io.ReadAll(&progressReader{r: resp.Body, onRead: ex.idle.touch})
	if err != nil {
		ex.fail(ex.classify(err, util.UpstreamStream), 0)
		return
	}
	_, _ = ex.respCapture.Write(data)

	header := ex.copyResponseHeader(resp)
	if etagMatches(ex.r.Header.Get("If-None-Match"), etag) {
		header.Set("Content-Length", "0")
		ex.commit(http.StatusNotModified)
		return
	}

	if !bodyAllowed(status) {
		header.Set("Content-Length", "0")
		ex.commit(status)
		return
	}

	if ex.r.Method != http.MethodHead {
		header.Set("Content-Length", strconv.Itoa(len(data)))
	}
	ex.commit(status)
	n, err := ex.w.Write(data)
	ex.respSize = int64(n)
	if err != nil {
		ex.logger.Debug("client write failed", observability.Error(err))
	}
}

// streamResponse copies the response body through as it arrives.
func (ex *exchange) streamResponse(resp *http.Response, status int) {
	header := ex.copyResponseHeader(resp)
	if !bodyAllowed(status) {
		header.Set("Content-Length", "0")
		ex.commit(status)
		return
	}
	ex.commit(status)

	rc := http.NewResponseController(ex.w)
	buf := make([]byte, streamBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			ex.idle.touch()
			if _, err := ex.w.Write(buf[:n]); err != nil {
				ex.err = NewProxyError("write_response", ex.f.rule.Pattern, ex.target, "client write failed", err)
				ex.logger.Debug("client write failed", observability.Error(err))
				return
			}
			_, _ = ex.respCapture.Write(buf[:n])
			ex.respSize += int64(n)
			ex.idle.touch()
			_ = rc.Flush()
		}
		if readErr == io.EOF {
			return
		}
		if readErr != nil {
			ex.fail(ex.classify(readErr, util.UpstreamStream), 0)
			// Headers are out; aborting is the only way to tell the client
			// the body is incomplete.
			panic(http.ErrAbortHandler)
		}
	}
}

// copyResponseHeader copies backend headers to the client response.
func (ex *exchange) copyResponseHeader(resp *http.Response) http.Header {
	header := ex.w.Header()
	copyHeader(header, resp.Header)
	removeHopHeaders(header)
	ex.respHeader = header
	return header
}

// commit writes the status line. Only the first finalization counts.
func (ex *exchange) commit(status int) {
	if ex.finalized {
		ex.logger.Debug("response already finalized", observability.Int("status", status))
		return
	}
	ex.finalized = true
	ex.status = status
	ex.w.WriteHeader(status)
}

// fail ends the exchange with err. status 0 derives it from err.
func (ex *exchange) fail(err error, status int) {
	ex.err = err
	ex.setState(stateError)
	if status == 0 {
		status = statusForError(err)
	}
	getProxyMetrics().recordError(ex.label, err)

	if errors.Is(err, ErrClientGone) {
		ex.logger.Debug("client closed request", observability.Error(err))
		if !ex.finalized {
			ex.status = status
		}
		return
	}

	ex.logger.Error("exchange failed",
		observability.String("state", ex.currentState().String()),
		observability.Error(err),
	)

	if ex.finalized {
		ex.logger.Debug("response already finalized, dropping error status", observability.Int("status", status))
		return
	}
	ex.finalized = true
	ex.status = status
	for name := range ex.w.Header() {
		ex.w.Header().Del(name)
	}
	ex.respHeader = ex.w.Header()
	writeErrorBody(ex.w, status)
}

// finish closes the exchange. It runs exactly once per exchange, also
// when the handler aborts.
func (ex *exchange) finish() {
	ex.idle.stop()
	ex.cancel()

	if ex.err != nil {
		ex.span.RecordError(ex.err)
		ex.span.SetStatus(codes.Error, ex.err.Error())
	} else {
		ex.setState(stateDone)
	}
	ex.span.SetAttributes(attribute.Int("http.response.status_code", ex.status))
	ex.span.End()

	ex.f.opts.monitor.StopTracking(ex.label, ex.token, ex.uri)

	ex.f.opts.audit.Record(ex.ctx, &audit.Request{
		Rule:       ex.f.rule.Pattern,
		Method:     ex.r.Method,
		URI:        ex.uri,
		Header:     ex.r.Header,
		Body:       ex.reqCapture.Bytes(),
		User:       ex.user,
		RequestID:  observability.RequestIDFromContext(ex.r.Context()),
		RemoteAddr: ex.r.RemoteAddr,
		Start:      ex.token.Start(),
	}, &audit.Response{
		Header: ex.respHeader,
		Body:   ex.respCapture.Bytes(),
		Size:   ex.respSize,
	}, ex.status)
}

// etagMatches reports whether an If-None-Match value covers etag.
func etagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

// bodyAllowed reports whether a response with status may carry a body.
func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
