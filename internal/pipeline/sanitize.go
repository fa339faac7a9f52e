package pipeline

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/erauner12/bffgateway/internal/gatewayerr"
	"github.com/erauner12/bffgateway/internal/manifest"
)

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// sanitizer holds the traversal limits shared by the input-sanitization and
// output-validation stages.
type sanitizer struct {
	maxDepth  int
	maxArray  int
	maxString int
	stripHTML bool
}

func newSanitizer(m manifest.Manifest) *sanitizer {
	return &sanitizer{
		maxDepth:  m.PayloadLimits.MaxDepth,
		maxArray:  m.PayloadLimits.MaxArrayLength,
		maxString: m.PayloadLimits.MaxStringLength,
		stripHTML: m.Enforcement.StripHTML,
	}
}

// sanitizeStage walks the decoded body, enforcing the depth cap, the
// pattern blocklist, and the array/string caps, and emits the sanitized
// copy plus a flag list. The blocklist runs here whenever sanitization is
// on, independent of the firewall flag, so a manifest with the firewall
// disabled still never hands blocked patterns to the kernel. The walk is
// idempotent: sanitizing already-sanitized input is a no-op.
func (p *Pipeline) sanitizeStage(c *Context) *gatewayerr.Error {
	if !p.Manifest.Enforcement.SanitizeInputs {
		c.Sanitized = c.Body
		return nil
	}
	if c.Body == nil {
		return nil
	}

	seen := make(map[uintptr]bool)
	var flags []string
	out, err := p.sanitizer.walk(c.Body, 1, seen, &flags)
	if err != nil {
		return err
	}
	c.Sanitized = out
	c.SanitizeFlags = flags
	return nil
}

func (s *sanitizer) walk(v any, depth int, seen map[uintptr]bool, flags *[]string) (any, *gatewayerr.Error) {
	if depth > s.maxDepth {
		return nil, gatewayerr.New(gatewayerr.CodeValidation,
			fmt.Sprintf("payload nesting depth exceeds maximum %d", s.maxDepth))
	}

	switch t := v.(type) {
	case map[string]any:
		ptr := reflect.ValueOf(t).Pointer()
		if seen[ptr] {
			return nil, gatewayerr.New(gatewayerr.CodeValidation, "payload contains a cycle")
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		out := make(map[string]any, len(t))
		for k, val := range t {
			if err := checkBlocked(k); err != nil {
				return nil, err
			}
			cleaned, err := s.walk(val, depth+1, seen, flags)
			if err != nil {
				return nil, err
			}
			out[k] = cleaned
		}
		return out, nil

	case []any:
		ptr := reflect.ValueOf(t).Pointer()
		if seen[ptr] {
			return nil, gatewayerr.New(gatewayerr.CodeValidation, "payload contains a cycle")
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		items := t
		if len(items) > s.maxArray {
			items = items[:s.maxArray]
			*flags = appendFlag(*flags, "array_truncated")
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			cleaned, err := s.walk(item, depth+1, seen, flags)
			if err != nil {
				return nil, err
			}
			out = append(out, cleaned)
		}
		return out, nil

	case string:
		if err := checkBlocked(t); err != nil {
			return nil, err
		}
		return s.cleanString(t, flags), nil

	default:
		return v, nil
	}
}

// checkBlocked applies the shared pattern blocklist to one key or string
// value.
func checkBlocked(v string) *gatewayerr.Error {
	for _, b := range blocklist {
		if b.re.MatchString(v) {
			return gatewayerr.New(gatewayerr.CodeValidation, "payload contains a blocked pattern").
				WithDebugReason("blocklist:" + b.name)
		}
	}
	return nil
}

func (s *sanitizer) cleanString(v string, flags *[]string) string {
	if strings.ContainsRune(v, 0) {
		v = strings.ReplaceAll(v, "\x00", "")
		*flags = appendFlag(*flags, "null_bytes_stripped")
	}
	if s.stripHTML && htmlTagPattern.MatchString(v) {
		v = htmlTagPattern.ReplaceAllString(v, "")
		*flags = appendFlag(*flags, "html_stripped")
	}
	if len(v) > s.maxString {
		v = v[:s.maxString]
		*flags = appendFlag(*flags, "string_truncated")
	}
	return v
}

func appendFlag(flags []string, flag string) []string {
	for _, f := range flags {
		if f == flag {
			return flags
		}
	}
	return append(flags, flag)
}

// outputValidationStage applies the same traversal to the response payload:
// strict in production, warn-only in development.
func (p *Pipeline) outputValidationStage(c *Context, out *Outcome) *gatewayerr.Error {
	if out.Payload == nil {
		return nil
	}

	seen := make(map[uintptr]bool)
	var flags []string
	if _, err := p.sanitizer.walk(out.Payload, 1, seen, &flags); err != nil || len(flags) > 0 {
		if p.Manifest.Env == manifest.EnvDevelopment {
			p.Logger.Warn().
				Str("requestId", c.RequestID).
				Strs("flags", flags).
				Msg("response payload failed output validation")
			return nil
		}
		return gatewayerr.New(gatewayerr.CodeOutputValidationFail, "response payload failed validation")
	}
	return nil
}
