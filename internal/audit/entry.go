// Package audit implements the hash-chained audit trail: entry shape,
// chain hashing, classification, and the pluggable store behind it.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Genesis is the previousHash of the first entry in a chain.
const Genesis = "genesis"

// Category classifies what kind of operation an entry records.
type Category string

const (
	CategoryRead   Category = "read"
	CategoryWrite  Category = "write"
	CategoryDelete Category = "delete"
	CategoryAdmin  Category = "admin"
	CategorySystem Category = "system"
)

// RiskLevel grades how sensitive the recorded operation is.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Status is the entry's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusError   Status = "error"
)

// Entry is one immutable audit record. Hash covers every other field plus
// the previous entry's hash, so the chain detects deletion and reordering.
type Entry struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Hash         string         `json:"hash"`
	PreviousHash string         `json:"previousHash"`
	RequestID    string         `json:"requestId"`
	Method       string         `json:"method"`
	Path         string         `json:"path"`
	Protocol     string         `json:"protocol"`
	TenantID     string         `json:"tenantId"`
	UserID       string         `json:"userId"`
	Roles        []string       `json:"roles"`
	APIVersion   string         `json:"apiVersion"`
	ClientType   string         `json:"clientType,omitempty"`
	TraceID      string         `json:"traceId,omitempty"`
	SpanID       string         `json:"spanId,omitempty"`
	Action       string         `json:"action"`
	Category     Category       `json:"category"`
	RiskLevel    RiskLevel      `json:"riskLevel"`
	Status       Status         `json:"status"`
	StatusCode   int            `json:"statusCode,omitempty"`
	ErrorCode    string         `json:"errorCode,omitempty"`
	DurationMs   int64          `json:"durationMs,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ComputeHash returns the chain hash for e given its previousHash: SHA-256
// (or HMAC-SHA-256 when secret is non-empty) over the entry's JSON with the
// Hash field cleared, concatenated with previousHash. encoding/json is
// deterministic here: struct fields serialize in declaration order and map
// keys sort lexicographically.
func ComputeHash(e Entry, secret string) (string, error) {
	e.Hash = ""
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("audit: hash entry: %w", err)
	}

	input := append(raw, []byte(e.PreviousHash)...)
	if secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(input)
		return fmt.Sprintf("%x", mac.Sum(nil)), nil
	}
	sum := sha256.Sum256(input)
	return fmt.Sprintf("%x", sum[:]), nil
}

// ClassifyCategory derives the entry category from method and path. Admin,
// system, and internal path segments override the method-derived category.
func ClassifyCategory(method, path string, isSystem bool) Category {
	if isSystem {
		return CategorySystem
	}
	lower := strings.ToLower(path)
	for _, seg := range []string{"/admin", "/system", "/internal"} {
		if strings.Contains(lower, seg) {
			return CategoryAdmin
		}
	}
	switch strings.ToUpper(method) {
	case "GET", "HEAD", "OPTIONS":
		return CategoryRead
	case "DELETE":
		return CategoryDelete
	default:
		return CategoryWrite
	}
}

// highRiskPathSegments mark operations that are critical regardless of method.
var highRiskPathSegments = []string{"/admin", "/system", "/internal", "/secrets", "/keys"}

// ClassifyRisk derives an entry's risk level per the category/method matrix.
func ClassifyRisk(method, path string, category Category, isSystem bool) RiskLevel {
	lower := strings.ToLower(path)
	if category == CategoryAdmin || category == CategorySystem {
		return RiskCritical
	}
	for _, seg := range highRiskPathSegments {
		if strings.Contains(lower, seg) {
			return RiskCritical
		}
	}
	if strings.ToUpper(method) == "DELETE" || isSystem {
		return RiskHigh
	}
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH":
		return RiskMedium
	default:
		return RiskLow
	}
}
