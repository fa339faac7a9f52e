package manifest

import "encoding/json"

// deepMerge merges patch onto base (both generic JSON-decoded values):
// objects merge key-by-key recursively, everything else (including arrays)
// is replaced wholesale by the patch value. Neither input is mutated.
func deepMerge(base, patch any) any {
	baseMap, baseIsMap := base.(map[string]any)
	patchMap, patchIsMap := patch.(map[string]any)

	if baseIsMap && patchIsMap {
		result := make(map[string]any, len(baseMap)+len(patchMap))
		for k, v := range baseMap {
			result[k] = v
		}
		for k, v := range patchMap {
			if existing, ok := result[k]; ok {
				result[k] = deepMerge(existing, v)
			} else {
				result[k] = v
			}
		}
		return result
	}
	// Patch wins outright for non-object values (including nil, to allow
	// explicit unset-to-zero patches) and for array replacement.
	return patch
}

// MergePatch deep-merges a raw JSON patch document onto base and returns a
// brand-new Manifest value — base is never mutated, and the result is
// independent of any aliasing with base's internal maps/slices.
func MergePatch(base Manifest, patchJSON []byte) (Manifest, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return Manifest{}, err
	}

	var baseGeneric any
	if err := json.Unmarshal(baseJSON, &baseGeneric); err != nil {
		return Manifest{}, err
	}

	var patchGeneric any
	if err := json.Unmarshal(patchJSON, &patchGeneric); err != nil {
		return Manifest{}, err
	}

	mergedGeneric := deepMerge(baseGeneric, patchGeneric)

	mergedJSON, err := json.Marshal(mergedGeneric)
	if err != nil {
		return Manifest{}, err
	}

	var merged Manifest
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return Manifest{}, err
	}
	return merged, nil
}

// DeepClone returns an independent copy of m: mutating the clone's maps or
// slices never affects m, and vice versa. Used by the Drift Guard to hold a
// baseline immune to accidental aliasing, and by New()/Approve() to freeze
// a value before returning it.
func (m Manifest) DeepClone() Manifest {
	raw, err := json.Marshal(m)
	if err != nil {
		// Manifest is always JSON-marshalable by construction; a failure
		// here means a programming error upstream, not a runtime state to
		// recover from.
		panic("manifest: DeepClone: marshal: " + err.Error())
	}
	var clone Manifest
	if err := json.Unmarshal(raw, &clone); err != nil {
		panic("manifest: DeepClone: unmarshal: " + err.Error())
	}
	return clone
}
