package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/erauner12/bffgateway/internal/gatewayerr"
	"github.com/erauner12/bffgateway/internal/manifest"
)

// blockPattern is one hard-reject rule of the firewall's blocklist.
type blockPattern struct {
	name string
	re   *regexp.Regexp
}

var blocklist = []blockPattern{
	{"xss_script_tag", regexp.MustCompile(`(?i)<\s*script\b`)},
	{"xss_event_handler", regexp.MustCompile(`(?i)\bon(error|load|click|mouseover)\s*=`)},
	{"xss_javascript_uri", regexp.MustCompile(`(?i)javascript\s*:`)},
	{"prototype_pollution", regexp.MustCompile(`(?i)__proto__|\bconstructor\s*\[|\bprototype\s*\[`)},
	{"template_injection", regexp.MustCompile(`\{\{.*\}\}|\$\{.*\}|<%.*%>`)},
	{"code_execution", regexp.MustCompile(`(?i)\b(eval|Function)\s*\(|\brequire\s*\(|\bimport\s*\(`)},
	{"sql_injection", regexp.MustCompile(`(?i)\bunion\s+select\b|\bdrop\s+table\b|'\s*;\s*--|\bor\s+1\s*=\s*1\b`)},
}

// riskFactor is one weighted signal of the firewall's scoring model. A
// critical factor's contribution is multiplied before summing.
type riskFactor struct {
	name     string
	re       *regexp.Regexp
	weight   float64
	critical bool
}

var riskFactors = []riskFactor{
	{"credential_keywords", regexp.MustCompile(`(?i)\b(password|secret|api[-_]?key|private[-_]?key)\b`), 0.25, true},
	{"shell_metachars", regexp.MustCompile("[;`|]\\s*(rm|curl|wget|nc|bash|sh)\\b"), 0.35, true},
	{"encoded_payload", regexp.MustCompile(`[A-Za-z0-9+/]{200,}={0,2}`), 0.2, false},
	{"url_flood", regexp.MustCompile(`https?://\S+`), 0.1, false},
	{"null_bytes", regexp.MustCompile(`\\u0000|\x00`), 0.3, false},
}

const criticalMultiplier = 1.5

// firewall holds the compiled pattern state for both firewall stages.
type firewall struct {
	cfg       manifest.AIFirewall
	safeMode  []*regexp.Regexp
	piiKeys   []*regexp.Regexp
	leakage   map[string]bool
	threshold float64
}

// piiKeyPatterns maps the manifest's PII pattern names to the key-name
// regexes the post-check applies.
var piiKeyPatterns = map[string]*regexp.Regexp{
	"email":      regexp.MustCompile(`(?i)^e[-_]?mail`),
	"ssn":        regexp.MustCompile(`(?i)^ssn$|social[-_]?security`),
	"creditCard": regexp.MustCompile(`(?i)credit[-_]?card|card[-_]?number`),
	"phone":      regexp.MustCompile(`(?i)^phone|^mobile`),
}

func newFirewall(m manifest.Manifest) *firewall {
	f := &firewall{
		cfg:       m.AIFirewall,
		leakage:   make(map[string]bool, len(m.AIFirewall.LeakageKeys)),
		threshold: m.AIFirewall.RiskThreshold,
	}
	for _, p := range m.AIFirewall.SafeModePatterns {
		if re, err := regexp.Compile(p); err == nil {
			f.safeMode = append(f.safeMode, re)
		}
	}
	for _, name := range m.AIFirewall.PIIPatternNames {
		if re, ok := piiKeyPatterns[name]; ok {
			f.piiKeys = append(f.piiKeys, re)
		}
	}
	for _, k := range m.AIFirewall.LeakageKeys {
		f.leakage[k] = true
	}
	return f
}

// firewallPreStage screens the request body before it reaches the kernel.
func (p *Pipeline) firewallPreStage(c *Context) *gatewayerr.Error {
	if !p.Manifest.Enforcement.AIFirewallRequired || !p.firewall.cfg.Enabled {
		return nil
	}
	if c.Auth.IsSystem() && p.Manifest.Security.SystemBypassEnabled {
		return nil
	}
	for _, bypass := range p.firewall.cfg.BypassPaths {
		if bypass == c.Path {
			return nil
		}
	}
	if c.Body == nil {
		return nil
	}

	serialized := serializeBody(c.Body)

	for _, b := range blocklist {
		if b.re.MatchString(serialized) {
			return gatewayerr.New(gatewayerr.CodeAIFirewallBlocked, "request blocked by firewall").
				WithDebugReason("blocklist:" + b.name)
		}
	}

	if p.isAIPath(c.Path) {
		for i, re := range p.firewall.safeMode {
			if re.MatchString(serialized) {
				return gatewayerr.New(gatewayerr.CodeAIFirewallBlocked, "request blocked by firewall").
					WithDebugReason(fmt.Sprintf("safemode:pattern_%d", i))
			}
		}
	}

	if score := riskScore(serialized); score >= p.firewall.threshold {
		return gatewayerr.New(gatewayerr.CodeAIFirewallBlocked, "request blocked by firewall").
			WithDebugReason(fmt.Sprintf("risk_score:%.2f", score))
	}
	return nil
}

func (p *Pipeline) isAIPath(path string) bool {
	for _, prefix := range p.firewall.cfg.AIPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// riskScore sums weighted factor intensities (match counts, saturating at
// three) with the critical multiplier applied per factor.
func riskScore(s string) float64 {
	var score float64
	for _, f := range riskFactors {
		matches := len(f.re.FindAllStringIndex(s, 4))
		if matches == 0 {
			continue
		}
		if matches > 3 {
			matches = 3
		}
		contribution := f.weight * float64(matches) / 3
		if f.critical {
			contribution *= criticalMultiplier
		}
		score += contribution
	}
	return score
}

func serializeBody(body any) string {
	switch t := body.(type) {
	case string:
		return t
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(body); err != nil {
			return fmt.Sprintf("%v", body)
		}
		return strings.TrimSuffix(buf.String(), "\n")
	}
}

// isRedacted reports whether v is an accepted value for a PII-named key in a
// response: nil, the empty string, or "[REDACTED]".
func isRedacted(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && (s == "" || s == "[REDACTED]")
}

// firewallPostStage screens the response payload for internal-detail
// leakage and unredacted PII before it leaves the gateway.
func (p *Pipeline) firewallPostStage(c *Context, out *Outcome) *gatewayerr.Error {
	if !p.Manifest.Enforcement.AIFirewallRequired || !p.firewall.cfg.Enabled {
		return nil
	}
	if out.Payload == nil {
		return nil
	}
	return p.walkResponse(out.Payload)
}

func (p *Pipeline) walkResponse(v any) *gatewayerr.Error {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if p.firewall.leakage[k] {
				return gatewayerr.New(gatewayerr.CodeOutputValidationFail, "response contains internal details").
					WithDebugReason("leakage_key:" + k)
			}
			for _, re := range p.firewall.piiKeys {
				if re.MatchString(k) && !isRedacted(val) {
					return gatewayerr.New(gatewayerr.CodeOutputValidationFail, "response contains unredacted PII").
						WithDebugReason("pii_key:" + k)
				}
			}
			if err := p.walkResponse(val); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range t {
			if err := p.walkResponse(item); err != nil {
				return err
			}
		}
	}
	return nil
}
