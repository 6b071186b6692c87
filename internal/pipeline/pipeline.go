// Package pipeline runs every API request through the same sequence of
// stages: content negotiation, rate limiting, pagination, the endpoint
// handler and rendering. Each stage has exactly one success and one failure
// transition, and any failure short-circuits to rendering.
package pipeline

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"apicore/internal/apierror"
	"apicore/internal/negotiate"
	"apicore/internal/pagination"
	"apicore/internal/ratelimit"
)

// State is a stage of request processing.
type State string

const (
	StateNegotiating  State = "negotiating"
	StateRateLimiting State = "rate_limiting"
	StatePaginating   State = "paginating"
	StateHandling     State = "handling"
	StateRendering    State = "rendering"
	StateDone         State = "done"
)

// Request is the transport independent input of Run.
type Request struct {
	ID             string
	Accept         string
	AcceptEncoding string
	AcceptLanguage string

	// Identify returns the rate limit key of the caller. A nil Identify
	// limits the request under the anonymous key of the route class.
	Identify func() (ratelimit.Key, error)

	// Query parameters consumed by paginated routes.
	Limit  string
	Cursor string
	Sort   string

	Vars map[string]string
}

// Outcome is the result of Run. Body is the uncompressed JSON payload.
type Outcome struct {
	Status    int
	Format    negotiate.Format
	Admission *ratelimit.Result
	Key       ratelimit.Key
	Body      []byte
	Err       *apierror.Error
	// Trace lists the states visited, in order.
	Trace []State
}

// Negotiated reports whether the negotiation stage succeeded.
func (o Outcome) Negotiated() bool {
	return len(o.Trace) > 1 && o.Trace[1] != StateRendering
}

// envelope is the success body.
type envelope struct {
	Data       any              `json:"data"`
	Pagination *pagination.Meta `json:"pagination,omitempty"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLimiter enables rate limiting. Without it the rate limiting stage
// admits every request.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(p *Pipeline) { p.limiter = l }
}

// WithRefunds returns the admitted tokens of successful or failed requests
// so that they do not count against the quota.
func WithRefunds(skipSuccessful, skipFailed bool) Option {
	return func(p *Pipeline) {
		p.skipSuccessful = skipSuccessful
		p.skipFailed = skipFailed
	}
}

// WithKeyResolver sets how Handler identifies callers.
func WithKeyResolver(kr *ratelimit.KeyResolver) Option {
	return func(p *Pipeline) { p.keys = kr }
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	negotiator     *negotiate.Negotiator
	paginator      *pagination.Paginator
	limiter        *ratelimit.Limiter
	keys           *ratelimit.KeyResolver
	skipSuccessful bool
	skipFailed     bool
}

func New(negotiator *negotiate.Negotiator, paginator *pagination.Paginator, opts ...Option) *Pipeline {
	p := &Pipeline{
		negotiator: negotiator,
		paginator:  paginator,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run holds the state of one request while it moves through the stages.
type run struct {
	route    Route
	req      Request
	out      Outcome
	plan     *pagination.Plan
	result   Result
	admitted bool
	cost     int
}

// Run executes the state machine for req against route.
func (p *Pipeline) Run(ctx context.Context, route Route, req Request) Outcome {
	r := &run{route: route, req: req, cost: route.cost()}

	state := StateNegotiating
	for {
		r.out.Trace = append(r.out.Trace, state)
		if state == StateDone {
			return r.out
		}
		state = p.step(ctx, r, state)
	}
}

func (p *Pipeline) step(ctx context.Context, r *run, state State) State {
	switch state {
	case StateNegotiating:
		return p.transition(r, p.negotiate(r), StateRateLimiting)
	case StateRateLimiting:
		next := StateHandling
		if r.route.Paginated() {
			next = StatePaginating
		}
		return p.transition(r, p.rateLimit(ctx, r), next)
	case StatePaginating:
		return p.transition(r, p.paginate(r), StateHandling)
	case StateHandling:
		err := p.handle(ctx, r)
		p.compensate(ctx, r, err == nil)
		if err != nil {
			r.out.Err = apierror.From(err)
		}
		return StateRendering
	case StateRendering:
		p.render(ctx, r)
		return StateDone
	default:
		r.out.Err = apierror.NewInternal(nil)
		return StateRendering
	}
}

// transition records err and selects the failure edge when it is set.
func (p *Pipeline) transition(r *run, err error, next State) State {
	if err == nil {
		return next
	}
	r.out.Err = apierror.From(err)
	return StateRendering
}

func (p *Pipeline) negotiate(r *run) error {
	format, err := p.negotiator.Negotiate(r.req.Accept, r.req.AcceptEncoding, r.req.AcceptLanguage)
	if err != nil {
		return apierror.NewNotAcceptable(err.Error())
	}
	r.out.Format = format
	return nil
}

func (p *Pipeline) rateLimit(ctx context.Context, r *run) error {
	key := ratelimit.Key{Class: r.route.Class, Subject: "anonymous"}
	if r.req.Identify != nil {
		k, err := r.req.Identify()
		if err != nil {
			return err
		}
		key = k
	}
	r.out.Key = key

	if p.limiter == nil {
		return nil
	}

	res, err := p.limiter.Admit(ctx, key, r.cost)
	r.out.Admission = &res
	if err != nil {
		return err
	}
	if !res.Allowed {
		return apierror.NewRateLimited(res.RetryAfter)
	}
	r.admitted = true
	return nil
}

func (p *Pipeline) paginate(r *run) error {
	var errs apierror.Collector

	limit, err := pagination.ParseLimit(r.req.Limit)
	if err != nil && !errs.Merge(err) {
		return err
	}
	order, err := r.route.Sort.ParseSort(r.req.Sort)
	if err != nil && !errs.Merge(err) {
		return err
	}
	if err := errs.Err(); err != nil {
		return err
	}

	plan, err := p.paginator.Prepare(pagination.PageRequest{
		Cursor: r.req.Cursor,
		Limit:  limit,
		Order:  order,
	})
	if err != nil {
		return err
	}
	r.plan = &plan
	return nil
}

func (p *Pipeline) handle(ctx context.Context, r *run) error {
	if r.route.Handle == nil {
		return apierror.NewNotFound("no handler for route")
	}
	in := Input{Vars: r.req.Vars}
	if r.plan != nil {
		in.Plan = *r.plan
	}
	res, err := r.route.Handle(ctx, in)
	if err != nil {
		return err
	}
	r.result = res
	return nil
}

// compensate refunds the tokens of an admitted request when the refund
// toggles say it should not count. Failures are logged and ignored.
func (p *Pipeline) compensate(ctx context.Context, r *run, succeeded bool) {
	if !r.admitted || p.limiter == nil {
		return
	}
	if (succeeded && !p.skipSuccessful) || (!succeeded && !p.skipFailed) {
		return
	}
	if err := p.limiter.Refund(ctx, r.out.Key, r.cost); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("key", r.out.Key.String()).Msg("Rate limit refund failed")
	}
}

func (p *Pipeline) render(ctx context.Context, r *run) {
	if r.out.Err == nil {
		body, err := json.Marshal(envelope{Data: r.result.Data, Pagination: r.result.Pagination})
		if err == nil {
			r.out.Status = http.StatusOK
			r.out.Body = body
			return
		}
		r.out.Err = apierror.NewInternal(err)
	}

	rendered := *r.out.Err
	rendered.RequestID = r.req.ID
	apiErr := &rendered
	r.out.Err = apiErr
	r.out.Status, r.out.Body = apierror.Marshal(apiErr)

	log := zerolog.Ctx(ctx)
	if r.out.Status >= http.StatusInternalServerError {
		log.Error().
			Err(apiErr.Err).
			Str("request_id", r.req.ID).
			Str("kind", string(apiErr.Kind)).
			Int("status", r.out.Status).
			Str("detail", apiErr.Detail).
			Msg("Request failed")
		return
	}
	log.Debug().
		Str("request_id", r.req.ID).
		Str("kind", string(apiErr.Kind)).
		Int("status", r.out.Status).
		Msg("Request rejected")
}
