package pipeline

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/erauner12/bffgateway/internal/gatewayerr"
)

// bodyStage reads and decodes the request body. Extraction is best-effort:
// an unparseable JSON body fails, but an absent body on a method that may
// carry one does not. GET/HEAD/OPTIONS never read a body.
func (p *Pipeline) bodyStage(c *Context) *gatewayerr.Error {
	switch c.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return nil
	}
	if c.Request.Body == nil {
		return nil
	}

	limit := int64(p.Manifest.PayloadLimits.MaxRequestBytes)
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
	if err != nil {
		return gatewayerr.New(gatewayerr.CodeValidation, "failed to read request body")
	}
	if int64(len(raw)) > limit {
		return gatewayerr.New(gatewayerr.CodePayloadTooLarge, "request body exceeds size limit")
	}
	if len(raw) == 0 {
		return nil
	}
	c.RawBody = raw

	contentType := c.Headers["content-type"]
	switch {
	case strings.Contains(contentType, "application/json"), contentType == "":
		var body any
		if err := json.Unmarshal(raw, &body); err != nil {
			return gatewayerr.New(gatewayerr.CodeValidation, "request body is not valid JSON")
		}
		c.Body = body
	case strings.HasPrefix(contentType, "text/"):
		c.Body = string(raw)
	default:
		// Unknown content types keep the raw bytes only.
	}
	return nil
}
