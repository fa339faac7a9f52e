package gatewayerr

import "encoding/json"

// mustJSON is only used for the SSE envelope, whose payload is always a
// plain struct with no user-controlled cyclic data — a marshal failure here
// indicates a programming error, not a runtime condition to recover from.
func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"code":"INTERNAL_ERROR","message":"failed to encode error"}`
	}
	return string(b)
}
