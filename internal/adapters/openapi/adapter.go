// Package openapi implements the REST surface: a chi route table over the
// core kernel operations, plus an OpenAPI 3.1 document generated from it.
package openapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/bffgateway/internal/adapters/action"
	"github.com/erauner12/bffgateway/internal/gatewayerr"
	"github.com/erauner12/bffgateway/internal/kernel"
	"github.com/erauner12/bffgateway/internal/manifest"
	"github.com/erauner12/bffgateway/internal/pipeline"
)

// route is one row of the adapter's route table, the source of truth for
// both dispatch and the generated OpenAPI document.
type route struct {
	Method  string
	Path    string // relative to the mount
	Summary string
	Handler func(a *Adapter, c *pipeline.Context) (any, *gatewayerr.Error)
}

// Adapter is the REST/OpenAPI protocol surface.
type Adapter struct {
	mount   string
	pipe    *pipeline.Pipeline
	exec    kernel.Executor
	router  chi.Router
	routes  []route
	schemas map[string]any
}

// New builds the adapter from the manifest's openapi descriptor.
func New(m manifest.Manifest, pipe *pipeline.Pipeline, exec kernel.Executor) *Adapter {
	a := &Adapter{
		mount:   m.Protocols[manifest.ProtocolOpenAPI].Mount,
		pipe:    pipe,
		exec:    exec,
		schemas: make(map[string]any),
	}
	a.routes = []route{
		{"GET", "/health", "Gateway and kernel health", (*Adapter).handleHealth},
		{"POST", "/execute", "Execute a whitelisted action", (*Adapter).handleExecute},
		{"GET", "/engines", "List registered engines", (*Adapter).handleListEngines},
		{"GET", "/engines/{name}", "Fetch one engine", (*Adapter).handleGetEngine},
		{"GET", "/actions", "List registered actions", (*Adapter).handleListActions},
		{"GET", "/openapi.json", "This document", (*Adapter).handleSpec},
	}

	r := chi.NewRouter()
	for _, rt := range a.routes {
		rt := rt
		r.MethodFunc(rt.Method, rt.Path, func(w http.ResponseWriter, req *http.Request) {
			a.serve(w, req, rt)
		})
		r.Options(rt.Path, func(w http.ResponseWriter, req *http.Request) {
			a.serve(w, req, route{Method: "OPTIONS"})
		})
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		a.writeBare(w, http.StatusNotFound,
			gatewayerr.New(gatewayerr.CodeNotFound, "no such route"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		a.writeBare(w, http.StatusMethodNotAllowed,
			gatewayerr.New(gatewayerr.CodeMethodNotAllowed, "method not allowed"))
	})
	a.router = r
	return a
}

// Mount returns the path prefix the gateway mounts this adapter at.
func (a *Adapter) Mount() string { return a.mount }

// Ready reports whether the adapter can accept traffic.
func (a *Adapter) Ready() bool { return a.exec != nil }

// Handler returns the surface's http.Handler.
func (a *Adapter) Handler() http.Handler { return a.router }

// RegisterSchema attaches a named input/output schema to the generated
// OpenAPI document.
func (a *Adapter) RegisterSchema(name string, schema any) {
	a.schemas[name] = schema
}

// serve runs the shared pipeline around a route handler.
func (a *Adapter) serve(w http.ResponseWriter, r *http.Request, rt route) {
	c, gwErr := a.pipe.Pre(r, "openapi")
	if gwErr != nil {
		a.writeError(w, c, gwErr)
		return
	}
	if c.Preflight {
		for k, vs := range c.PreflightHeaders {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if rt.Handler == nil {
		// OPTIONS without an Origin header: nothing to dispatch.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	data, handlerErr := rt.Handler(a, c)

	out := &pipeline.Outcome{StatusCode: http.StatusOK, Payload: data, Err: handlerErr}
	if handlerErr != nil {
		out.StatusCode = handlerErr.Status
	}
	headers := a.pipe.Post(c, out)
	for k, vs := range headers {
		for _, v := range vs {
			w.Header().Set(k, v)
		}
	}

	if out.Err != nil {
		errorID := uuid.NewString()
		w.Header().Set("X-Error-ID", errorID)
		a.writeEnvelope(w, out.Err.Status,
			gatewayerr.StandardError(out.Err, errorID, a.pipe.MaskingEnabled(), a.pipe.Meta(c)), w.Header())
		return
	}
	a.writeEnvelope(w, out.StatusCode,
		gatewayerr.StandardSuccess(out.Payload, a.pipe.Meta(c)), w.Header())
}

// dispatch invokes the kernel under the request deadline, translating
// timeouts and failures into the taxonomy.
func (a *Adapter) dispatch(c *pipeline.Context, code string, input any) (any, *gatewayerr.Error) {
	ctx, cancel := context.WithDeadline(c.Request.Context(), c.Deadline)
	defer cancel()

	result, err := a.exec.Run(ctx, kernel.Invocation{
		Code:     code,
		Context:  "openapi",
		TenantID: c.Auth.TenantID,
		UserID:   c.Auth.UserID,
		Input:    input,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, a.pipe.Timeout(c)
		}
		return nil, gatewayerr.New(gatewayerr.CodeExecutionFailed, err.Error())
	}
	return result, nil
}

func (a *Adapter) handleHealth(c *pipeline.Context) (any, *gatewayerr.Error) {
	return a.dispatch(c, kernel.CodeSystemHealth, nil)
}

func (a *Adapter) handleListEngines(c *pipeline.Context) (any, *gatewayerr.Error) {
	return a.dispatch(c, kernel.CodeListEngines, nil)
}

func (a *Adapter) handleGetEngine(c *pipeline.Context) (any, *gatewayerr.Error) {
	name := chi.URLParam(c.Request, "name")
	if name == "" {
		return nil, gatewayerr.New(gatewayerr.CodeEngineNotFound, "engine name is required")
	}
	return a.dispatch(c, kernel.GetEngineCode(name), nil)
}

func (a *Adapter) handleListActions(c *pipeline.Context) (any, *gatewayerr.Error) {
	return a.dispatch(c, kernel.CodeListActions, nil)
}

func (a *Adapter) handleExecute(c *pipeline.Context) (any, *gatewayerr.Error) {
	body, _ := c.Sanitized.(map[string]any)
	actionStr, _ := body["action"].(string)
	if err := action.Validate(actionStr, a.pipe.Manifest.Env); err != nil {
		return nil, err
	}
	return a.dispatch(c, actionStr, body["input"])
}

func (a *Adapter) handleSpec(_ *pipeline.Context) (any, *gatewayerr.Error) {
	return a.Describe(), nil
}

func (a *Adapter) writeEnvelope(w http.ResponseWriter, status int, envelope any, _ http.Header) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		log.Error().Err(err).Msg("failed to encode response envelope")
	}
}

func (a *Adapter) writeError(w http.ResponseWriter, c *pipeline.Context, gwErr *gatewayerr.Error) {
	errorID := uuid.NewString()
	w.Header().Set("X-Error-ID", errorID)
	if c != nil && c.RequestID != "" {
		w.Header().Set("X-Request-ID", c.RequestID)
	}
	if gwErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(gwErr.RetryAfter))
	}
	if c != nil && !c.RateLimit.Reset.IsZero() {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(c.RateLimit.Remaining))
	}
	meta := gatewayerr.Meta{}
	if c != nil {
		meta = a.pipe.Meta(c)
	}
	a.writeEnvelope(w, gwErr.Status,
		gatewayerr.StandardError(gwErr, errorID, a.pipe.MaskingEnabled(), meta), w.Header())
}

// writeBare emits an error envelope for requests that never entered the
// pipeline (unknown route, bad method).
func (a *Adapter) writeBare(w http.ResponseWriter, status int, gwErr *gatewayerr.Error) {
	a.writeEnvelope(w, status,
		gatewayerr.StandardError(gwErr, uuid.NewString(), a.pipe.MaskingEnabled(), gatewayerr.Meta{}), w.Header())
}

