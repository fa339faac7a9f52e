package manifest

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("startswithslash", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || strings.HasPrefix(s, "/")
	})
	return v
}

// InvariantError reports a fatal violation of a construction invariant.
// Construction always fails on the first one found.
type InvariantError struct {
	Rule string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("manifest invariant violated: %s", e.Rule)
}

// checkInvariants enforces the fixed cross-field rules the schema tags
// cannot express. Order is fixed so error messages stay stable.
func checkInvariants(m Manifest) error {
	if m.Security.RequireTenantID && !m.Security.TenantIsolationRequired {
		return &InvariantError{Rule: "requireTenantId implies tenantIsolationRequired"}
	}
	if m.Security.AuditMutations && !m.Security.AuditTrailRequired {
		return &InvariantError{Rule: "auditMutations implies auditTrailRequired"}
	}
	if m.Enforcement.AIFirewallRequired && !m.Enforcement.SanitizeInputs {
		return &InvariantError{Rule: "aiFirewallRequired implies sanitizeInputs"}
	}
	for name, desc := range m.Protocols {
		if desc.Enabled && (desc.Mount == "" || !strings.HasPrefix(desc.Mount, "/")) {
			return &InvariantError{Rule: fmt.Sprintf("protocol %q is enabled but has no valid mount path", name)}
		}
	}
	if m.Enforcement.DriftShieldRequired && m.Signature == "" {
		return &InvariantError{Rule: "driftShieldRequired but signature is absent"}
	}
	return nil
}

// New validates, checks invariants, signs, and freezes a Manifest built
// from Default() deep-merged with patchJSON (pass nil for no override).
// secret, if non-empty, switches the signature to HMAC-SHA-256.
func New(patchJSON []byte, secret string) (Manifest, error) {
	base := Default()

	var m Manifest
	var err error
	if len(patchJSON) == 0 {
		m = base
	} else {
		m, err = MergePatch(base, patchJSON)
		if err != nil {
			return Manifest{}, fmt.Errorf("manifest: merge patch: %w", err)
		}
	}

	if err := validate.Struct(m); err != nil {
		return Manifest{}, fmt.Errorf("manifest: schema validation: %w", err)
	}

	// Sign first: the driftShieldRequired invariant checks Signature, so
	// invariants run once, on the signed value construction returns.
	m.Signature = ""
	sig, err := computeSignature(m, secret)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: compute signature: %w", err)
	}
	m.Signature = sig

	if err := checkInvariants(m); err != nil {
		return Manifest{}, err
	}

	return m.DeepClone(), nil
}

// Override produces a new Manifest by deep-merging patchJSON onto an
// existing Manifest (rather than Default()), re-validating, re-signing,
// and re-freezing. current is never mutated.
func Override(current Manifest, patchJSON []byte, secret string) (Manifest, error) {
	merged, err := MergePatch(current, patchJSON)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: override merge: %w", err)
	}

	if err := validate.Struct(merged); err != nil {
		return Manifest{}, fmt.Errorf("manifest: schema validation: %w", err)
	}

	merged.Signature = ""
	sig, err := computeSignature(merged, secret)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: compute signature: %w", err)
	}
	merged.Signature = sig

	if err := checkInvariants(merged); err != nil {
		return Manifest{}, err
	}

	return merged.DeepClone(), nil
}

// VerifySignature recomputes m's signature and compares it to m.Signature.
func VerifySignature(m Manifest, secret string) (bool, error) {
	expected, err := computeSignature(m, secret)
	if err != nil {
		return false, err
	}
	return expected == m.Signature, nil
}
