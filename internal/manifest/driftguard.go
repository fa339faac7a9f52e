package manifest

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"
)

// Severity classifies how dangerous a detected drift is.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var criticalFields = map[string]bool{"enforcement": true, "security": true}
var highFields = map[string]bool{"protocols": true, "rateLimits": true}
var mediumFields = map[string]bool{"cors": true, "versioning": true, "requiredHeaders": true}

// DriftResult is the outcome of a CheckDrift call.
type DriftResult struct {
	HasDrift      bool
	Diff          Diff
	ChangedFields []string
	Severity      Severity
	ReasonCodes   []string
}

// Diff describes which top-level manifest keys were added, removed, or
// had a different value between baseline and current.
type Diff struct {
	Added    []string
	Removed  []string
	Modified []string
}

// HistoryEntry records one Approve/Reject decision.
type HistoryEntry struct {
	At     time.Time
	By     string
	Reason string
	Action string // "approve" | "reject"
}

// DriftGuard holds a deep-cloned, frozen baseline and the approval history.
type DriftGuard struct {
	mu       sync.RWMutex
	baseline Manifest
	secret   string
	history  []HistoryEntry
}

// NewDriftGuard creates a guard whose baseline is a deep clone of initial.
func NewDriftGuard(initial Manifest, secret string) *DriftGuard {
	return &DriftGuard{baseline: initial.DeepClone(), secret: secret}
}

// Baseline returns a deep clone of the current baseline (never the guard's
// internal value, so callers cannot mutate guard state through it).
func (g *DriftGuard) Baseline() Manifest {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.baseline.DeepClone()
}

func toTopLevelMap(m Manifest) (map[string]any, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	delete(generic, "signature")
	return generic, nil
}

// CheckDrift recomputes current's signature and compares it against the
// baseline's, classifying any difference by which monitored fields moved.
func (g *DriftGuard) CheckDrift(current Manifest) (DriftResult, error) {
	g.mu.RLock()
	baseline := g.baseline
	secret := g.secret
	g.mu.RUnlock()

	baselineSig, err := computeSignature(baseline, secret)
	if err != nil {
		return DriftResult{}, err
	}
	currentSig, err := computeSignature(current, secret)
	if err != nil {
		return DriftResult{}, err
	}

	if baselineSig == currentSig {
		return DriftResult{HasDrift: false, Severity: SeverityNone}, nil
	}

	baselineMap, err := toTopLevelMap(baseline)
	if err != nil {
		return DriftResult{}, err
	}
	currentMap, err := toTopLevelMap(current)
	if err != nil {
		return DriftResult{}, err
	}

	diff := Diff{}
	changedSet := map[string]bool{}

	for k, bv := range baselineMap {
		cv, present := currentMap[k]
		if !present {
			diff.Removed = append(diff.Removed, k)
			changedSet[k] = true
			continue
		}
		if !reflect.DeepEqual(bv, cv) {
			diff.Modified = append(diff.Modified, k)
			changedSet[k] = true
		}
	}
	for k := range currentMap {
		if _, present := baselineMap[k]; !present {
			diff.Added = append(diff.Added, k)
			changedSet[k] = true
		}
	}
	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Modified)

	// The monitored "version" field lives under the identity block in the
	// serialized form.
	if changedSet["identity"] {
		changedSet["version"] = true
	}

	var changedFields []string
	for _, f := range monitoredFields {
		if changedSet[f] {
			changedFields = append(changedFields, f)
		}
	}

	severity := SeverityLow
	for _, f := range changedFields {
		if criticalFields[f] {
			severity = SeverityCritical
			break
		}
	}
	if severity != SeverityCritical {
		for _, f := range changedFields {
			if highFields[f] {
				severity = SeverityHigh
				break
			}
		}
	}
	if severity == SeverityLow {
		for _, f := range changedFields {
			if mediumFields[f] {
				severity = SeverityMedium
				break
			}
		}
	}

	reasonCodes := make([]string, 0, len(changedFields))
	for _, f := range changedFields {
		reasonCodes = append(reasonCodes, fieldReasonCode(f))
	}

	return DriftResult{
		HasDrift:      true,
		Diff:          diff,
		ChangedFields: changedFields,
		Severity:      severity,
		ReasonCodes:   reasonCodes,
	}, nil
}

func fieldReasonCode(field string) string {
	switch field {
	case "version":
		return "VERSION_CHANGED"
	default:
		upper := make([]byte, 0, len(field)+8)
		for _, r := range field {
			if r >= 'A' && r <= 'Z' {
				upper = append(upper, '_', byte(r))
			} else if r >= 'a' && r <= 'z' {
				upper = append(upper, byte(r-'a'+'A'))
			} else {
				upper = append(upper, byte(r))
			}
		}
		return string(upper) + "_CHANGED"
	}
}

// Approve appends a history entry and replaces the baseline with a
// deep-cloned copy of newManifest.
func (g *DriftGuard) Approve(newManifest Manifest, by, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.baseline = newManifest.DeepClone()
	g.history = append(g.history, HistoryEntry{At: time.Now(), By: by, Reason: reason, Action: "approve"})
}

// Reject appends a history entry without replacing the baseline.
func (g *DriftGuard) Reject(current Manifest, by, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history = append(g.history, HistoryEntry{At: time.Now(), By: by, Reason: reason, Action: "reject"})
}

// History returns a copy of the approval/rejection history.
func (g *DriftGuard) History() []HistoryEntry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]HistoryEntry, len(g.history))
	copy(out, g.history)
	return out
}

// FatalDriftError is raised by Enforce when severity is high or critical.
type FatalDriftError struct {
	Result DriftResult
}

func (e *FatalDriftError) Error() string {
	return fmt.Sprintf("fatal drift detected: severity=%s changedFields=%v", e.Result.Severity, e.Result.ChangedFields)
}

// Enforce raises a fatal error if current's drift against the baseline is
// high or critical severity.
func (g *DriftGuard) Enforce(current Manifest) error {
	result, err := g.CheckDrift(current)
	if err != nil {
		return err
	}
	if result.Severity == SeverityHigh || result.Severity == SeverityCritical {
		return &FatalDriftError{Result: result}
	}
	return nil
}
