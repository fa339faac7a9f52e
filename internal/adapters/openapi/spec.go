package openapi

import "strings"

// Describe renders an OpenAPI 3.1 document from the route table and any
// registered schemas.
func (a *Adapter) Describe() map[string]any {
	paths := make(map[string]any, len(a.routes))
	for _, rt := range a.routes {
		if rt.Path == "/openapi.json" {
			continue
		}
		item, _ := paths[rt.Path].(map[string]any)
		if item == nil {
			item = map[string]any{}
		}
		op := map[string]any{
			"summary": rt.Summary,
			"responses": map[string]any{
				"200": map[string]any{
					"description": "standard success envelope",
					"content": map[string]any{
						"application/json": map[string]any{
							"schema": map[string]any{"$ref": "#/components/schemas/StandardEnvelope"},
						},
					},
				},
			},
		}
		if params := pathParams(rt.Path); len(params) > 0 {
			op["parameters"] = params
		}
		item[strings.ToLower(rt.Method)] = op
		paths[rt.Path] = item
	}

	schemas := map[string]any{
		"StandardEnvelope": map[string]any{
			"type":     "object",
			"required": []string{"success", "meta"},
			"properties": map[string]any{
				"success": map[string]any{"type": "boolean"},
				"data":    map[string]any{},
				"error":   map[string]any{"$ref": "#/components/schemas/ErrorBody"},
				"meta":    map[string]any{"type": "object"},
			},
		},
		"ErrorBody": map[string]any{
			"type":     "object",
			"required": []string{"code", "message", "recoverable", "errorId"},
			"properties": map[string]any{
				"code":        map[string]any{"type": "string"},
				"message":     map[string]any{"type": "string"},
				"recoverable": map[string]any{"type": "boolean"},
				"retryAfter":  map[string]any{"type": "integer"},
				"errorId":     map[string]any{"type": "string"},
			},
		},
	}
	for name, schema := range a.schemas {
		schemas[name] = schema
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "gateway REST surface",
			"version": "1.0.0",
		},
		"servers":    []any{map[string]any{"url": a.mount}},
		"paths":      paths,
		"components": map[string]any{"schemas": schemas},
	}
}

func pathParams(p string) []any {
	var params []any
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			params = append(params, map[string]any{
				"name":     strings.Trim(seg, "{}"),
				"in":       "path",
				"required": true,
				"schema":   map[string]any{"type": "string"},
			})
		}
	}
	return params
}
