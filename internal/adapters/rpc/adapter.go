// Package rpc implements the typed-RPC surface: the last path segment
// names the procedure, input arrives as the POST body or an `input` query
// parameter, and responses use the result/error wire shape.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/bffgateway/internal/adapters/action"
	"github.com/erauner12/bffgateway/internal/gatewayerr"
	"github.com/erauner12/bffgateway/internal/kernel"
	"github.com/erauner12/bffgateway/internal/manifest"
	"github.com/erauner12/bffgateway/internal/pipeline"
)

// procedure resolves a call to a kernel code string.
type procedure func(a *Adapter, c *pipeline.Context, input any) (string, any, *gatewayerr.Error)

// Adapter is the typed-RPC protocol surface.
type Adapter struct {
	mount      string
	pipe       *pipeline.Pipeline
	exec       kernel.Executor
	procedures map[string]procedure
}

// New builds the adapter from the manifest's trpc descriptor.
func New(m manifest.Manifest, pipe *pipeline.Pipeline, exec kernel.Executor) *Adapter {
	a := &Adapter{
		mount: m.Protocols[manifest.ProtocolTRPC].Mount,
		pipe:  pipe,
		exec:  exec,
	}
	a.procedures = map[string]procedure{
		"health":      (*Adapter).procHealth,
		"listEngines": (*Adapter).procListEngines,
		"listActions": (*Adapter).procListActions,
		"execute":     (*Adapter).procExecute,
	}
	return a
}

// Mount returns the path prefix the gateway mounts this adapter at.
func (a *Adapter) Mount() string { return a.mount }

// Ready reports whether the adapter can accept traffic.
func (a *Adapter) Ready() bool { return a.exec != nil }

// Handler returns the surface's http.Handler.
func (a *Adapter) Handler() http.Handler { return http.HandlerFunc(a.serve) }

// resultEnvelope is the success wire shape.
type resultEnvelope struct {
	Result struct {
		Data any `json:"data"`
	} `json:"result"`
}

// errorEnvelope is the failure wire shape.
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Data    struct {
			Code       gatewayerr.Code `json:"code"`
			HTTPStatus int             `json:"httpStatus"`
		} `json:"data"`
	} `json:"error"`
}

func (a *Adapter) serve(w http.ResponseWriter, r *http.Request) {
	c, gwErr := a.pipe.Pre(r, "trpc")
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

	name := lastSegment(c.Path)
	proc, ok := a.procedures[name]

	var data any
	var handlerErr *gatewayerr.Error
	if !ok {
		handlerErr = gatewayerr.New(gatewayerr.CodeNotFound, "unknown procedure "+name)
	} else {
		input := a.input(c)
		var code string
		code, data, handlerErr = proc(a, c, input)
		if handlerErr == nil && code != "" {
			data, handlerErr = a.dispatch(c, code, input)
		}
	}

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
		a.writeError(w, c, out.Err)
		return
	}
	env := resultEnvelope{}
	env.Result.Data = out.Payload
	a.writeJSON(w, http.StatusOK, env)
}

// input resolves the procedure input: POST body first, then the `input`
// query parameter decoded as JSON.
func (a *Adapter) input(c *pipeline.Context) any {
	if c.Sanitized != nil {
		return c.Sanitized
	}
	if raw := c.Request.URL.Query().Get("input"); raw != "" {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return v
		}
		return raw
	}
	return nil
}

func (a *Adapter) dispatch(c *pipeline.Context, code string, input any) (any, *gatewayerr.Error) {
	ctx, cancel := context.WithDeadline(c.Request.Context(), c.Deadline)
	defer cancel()

	result, err := a.exec.Run(ctx, kernel.Invocation{
		Code:     code,
		Context:  "trpc",
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

func (a *Adapter) procHealth(_ *pipeline.Context, _ any) (string, any, *gatewayerr.Error) {
	return kernel.CodeSystemHealth, nil, nil
}

func (a *Adapter) procListEngines(_ *pipeline.Context, _ any) (string, any, *gatewayerr.Error) {
	return kernel.CodeListEngines, nil, nil
}

func (a *Adapter) procListActions(_ *pipeline.Context, _ any) (string, any, *gatewayerr.Error) {
	return kernel.CodeListActions, nil, nil
}

// procExecute applies the same whitelist/blocklist as the REST execute
// route before letting the action through.
func (a *Adapter) procExecute(_ *pipeline.Context, input any) (string, any, *gatewayerr.Error) {
	body, _ := input.(map[string]any)
	actionStr, _ := body["action"].(string)
	if err := action.Validate(actionStr, a.pipe.Manifest.Env); err != nil {
		return "", nil, err
	}
	return actionStr, nil, nil
}

func (a *Adapter) writeError(w http.ResponseWriter, c *pipeline.Context, gwErr *gatewayerr.Error) {
	errorID := uuid.NewString()
	w.Header().Set("X-Error-ID", errorID)
	if c != nil && c.RequestID != "" {
		w.Header().Set("X-Request-ID", c.RequestID)
	}

	env := errorEnvelope{}
	env.Error.Code = rpcErrorName(gwErr.Code)
	env.Error.Message = gwErr.MaskedMessage(a.pipe.MaskingEnabled())
	env.Error.Data.Code = gwErr.Code
	env.Error.Data.HTTPStatus = gwErr.Status

	status := http.StatusInternalServerError
	if gwErr.Code == gatewayerr.CodeNotFound {
		status = http.StatusNotFound
	}
	a.writeJSON(w, status, env)
}

// rpcErrorName maps taxonomy codes onto the RPC surface's coarse error
// names.
func rpcErrorName(code gatewayerr.Code) string {
	switch code {
	case gatewayerr.CodeNotFound, gatewayerr.CodeEngineNotFound, gatewayerr.CodeActionNotFound:
		return "NOT_FOUND"
	case gatewayerr.CodeAuth, gatewayerr.CodeUnauthorized:
		return "UNAUTHORIZED"
	case gatewayerr.CodeForbidden, gatewayerr.CodeTenantIsolation:
		return "FORBIDDEN"
	case gatewayerr.CodeValidation:
		return "BAD_REQUEST"
	case gatewayerr.CodeRateLimited:
		return "TOO_MANY_REQUESTS"
	case gatewayerr.CodeGatewayTimeout:
		return "TIMEOUT"
	default:
		return "INTERNAL_SERVER_ERROR"
	}
}

func lastSegment(path string) string {
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

func (a *Adapter) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode rpc response")
	}
}
