package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/bffgateway/internal/gatewayerr"
	"github.com/erauner12/bffgateway/internal/kernel"
	"github.com/erauner12/bffgateway/internal/manifest"
	"github.com/erauner12/bffgateway/internal/pipeline"
)

// Resolver handles one registered field. inv carries the caller identity;
// args are the request variables.
type Resolver func(ctx context.Context, inv kernel.Invocation, args map[string]any) (any, error)

// Adapter is the GraphQL protocol surface.
type Adapter struct {
	mount         string
	pipe          *pipeline.Pipeline
	exec          kernel.Executor
	maxDepth      int
	maxComplexity int

	// resolvers maps "Query.<name>" / "Mutation.<name>" to handlers.
	resolvers map[string]Resolver
	// permissions maps the same keys to a required permission, checked
	// before the resolver runs.
	permissions map[string]string
}

// New builds the adapter from the manifest's graphql descriptor and
// registers the core resolvers.
func New(m manifest.Manifest, pipe *pipeline.Pipeline, exec kernel.Executor) *Adapter {
	desc := m.Protocols[manifest.ProtocolGraphQL]
	a := &Adapter{
		mount:         desc.Mount,
		pipe:          pipe,
		exec:          exec,
		maxDepth:      desc.MaxDepth,
		maxComplexity: desc.MaxComplexity,
		resolvers:     make(map[string]Resolver),
		permissions:   make(map[string]string),
	}

	a.Register("Query.health", func(ctx context.Context, inv kernel.Invocation, _ map[string]any) (any, error) {
		inv.Code = kernel.CodeSystemHealth
		return exec.Run(ctx, inv)
	})
	a.Register("Query.engines", func(ctx context.Context, inv kernel.Invocation, _ map[string]any) (any, error) {
		inv.Code = kernel.CodeListEngines
		return exec.Run(ctx, inv)
	})
	a.Register("Query.actions", func(ctx context.Context, inv kernel.Invocation, _ map[string]any) (any, error) {
		inv.Code = kernel.CodeListActions
		return exec.Run(ctx, inv)
	})
	return a
}

// Register adds a resolver under "Query.<name>" or "Mutation.<name>".
func (a *Adapter) Register(key string, r Resolver) {
	a.resolvers[key] = r
}

// RequirePermission gates a registered field behind a permission.
func (a *Adapter) RequirePermission(key, permission string) {
	a.permissions[key] = permission
}

// Mount returns the path prefix the gateway mounts this adapter at.
func (a *Adapter) Mount() string { return a.mount }

// Ready reports whether the adapter can accept traffic.
func (a *Adapter) Ready() bool { return a.exec != nil }

// Handler returns the surface's http.Handler.
func (a *Adapter) Handler() http.Handler { return http.HandlerFunc(a.serve) }

// gqlError is one entry of the response errors array.
type gqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code gatewayerr.Code `json:"code"`
	} `json:"extensions"`
}

type gqlResponse struct {
	Data   map[string]any `json:"data,omitempty"`
	Errors []gqlError     `json:"errors,omitempty"`
}

func newGQLError(gwErr *gatewayerr.Error, masked bool) gqlError {
	e := gqlError{Message: gwErr.MaskedMessage(masked)}
	e.Extensions.Code = gwErr.Code
	return e
}

func (a *Adapter) serve(w http.ResponseWriter, r *http.Request) {
	c, gwErr := a.pipe.Pre(r, "graphql")
	if gwErr != nil {
		a.writeErrors(w, c, gwErr.Status, gwErr)
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

	body, _ := c.Sanitized.(map[string]any)
	query, _ := body["query"].(string)
	variables, _ := body["variables"].(map[string]any)

	var data map[string]any
	var handlerErr *gatewayerr.Error

	if strings.TrimSpace(query) == "" {
		handlerErr = gatewayerr.New(gatewayerr.CodeValidation, "query is required")
	} else {
		data, handlerErr = a.execute(c, query, variables)
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
		a.writeErrors(w, c, out.Err.Status, out.Err)
		return
	}
	payload, _ := out.Payload.(map[string]any)
	a.writeJSON(w, http.StatusOK, gqlResponse{Data: payload})
}

func (a *Adapter) execute(c *pipeline.Context, query string, variables map[string]any) (map[string]any, *gatewayerr.Error) {
	info := parse(query)

	allowIntrospection := a.pipe.Manifest.Env != manifest.EnvProduction
	if err := validate(info, query, a.maxDepth, a.maxComplexity, allowIntrospection); err != nil {
		return nil, err
	}
	if len(info.Fields) == 0 {
		return nil, gatewayerr.New(gatewayerr.CodeValidation, "no fields selected")
	}

	root := "Query"
	if info.Mutation {
		root = "Mutation"
	}

	ctx, cancel := context.WithDeadline(c.Request.Context(), c.Deadline)
	defer cancel()

	data := make(map[string]any, len(info.Fields))
	for _, field := range info.Fields {
		key := root + "." + field
		resolver, ok := a.resolvers[key]
		if !ok {
			return nil, gatewayerr.New(gatewayerr.CodeNotFound, "unknown field "+field)
		}
		if perm := a.permissions[key]; perm != "" && !c.Auth.HasPermission(perm) {
			return nil, gatewayerr.New(gatewayerr.CodeForbidden, "missing permission for field "+field)
		}

		result, err := resolver(ctx, kernel.Invocation{
			Context:  "graphql",
			TenantID: c.Auth.TenantID,
			UserID:   c.Auth.UserID,
			Input:    variables,
		}, variables)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, a.pipe.Timeout(c)
			}
			return nil, gatewayerr.New(gatewayerr.CodeExecutionFailed, err.Error())
		}
		data[field] = result
	}
	return data, nil
}

// Describe renders a minimal SDL document from the resolver table.
func (a *Adapter) Describe() string {
	var queries, mutations []string
	for key := range a.resolvers {
		name, ok := strings.CutPrefix(key, "Query.")
		if ok {
			queries = append(queries, "  "+name+": JSON")
			continue
		}
		if name, ok = strings.CutPrefix(key, "Mutation."); ok {
			mutations = append(mutations, "  "+name+": JSON")
		}
	}
	sort.Strings(queries)
	sort.Strings(mutations)

	var b strings.Builder
	b.WriteString("scalar JSON\n\ntype Query {\n")
	b.WriteString(strings.Join(queries, "\n"))
	b.WriteString("\n}\n")
	if len(mutations) > 0 {
		b.WriteString("\ntype Mutation {\n")
		b.WriteString(strings.Join(mutations, "\n"))
		b.WriteString("\n}\n")
	}
	return b.String()
}

func (a *Adapter) writeErrors(w http.ResponseWriter, c *pipeline.Context, status int, gwErrs ...*gatewayerr.Error) {
	w.Header().Set("X-Error-ID", uuid.NewString())
	if c != nil && c.RequestID != "" {
		w.Header().Set("X-Request-ID", c.RequestID)
	}
	resp := gqlResponse{}
	for _, e := range gwErrs {
		resp.Errors = append(resp.Errors, newGQLError(e, a.pipe.MaskingEnabled()))
	}
	a.writeJSON(w, status, resp)
}

func (a *Adapter) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode graphql response")
	}
}
