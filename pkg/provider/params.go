package provider

// MergeParameters combines stored per-configuration overrides with
// per-request overrides. On conflicting keys, request-time scalars win,
// object values are shallow-merged (request entries win inside), and array
// values are concatenated with the stored entries first.
//
// Neither input is mutated.
func MergeParameters(stored, request map[string]any) map[string]any {
	merged := make(map[string]any, len(stored)+len(request))
	for k, v := range stored {
		merged[k] = v
	}

	for k, rv := range request {
		sv, exists := merged[k]
		if !exists {
			merged[k] = rv
			continue
		}

		switch rval := rv.(type) {
		case map[string]any:
			sval, ok := sv.(map[string]any)
			if !ok {
				merged[k] = rv
				continue
			}
			combined := make(map[string]any, len(sval)+len(rval))
			for mk, mv := range sval {
				combined[mk] = mv
			}
			for mk, mv := range rval {
				combined[mk] = mv
			}
			merged[k] = combined

		case []any:
			sval, ok := sv.([]any)
			if !ok {
				merged[k] = rv
				continue
			}
			combined := make([]any, 0, len(sval)+len(rval))
			combined = append(combined, sval...)
			combined = append(combined, rval...)
			merged[k] = combined

		default:
			merged[k] = rv
		}
	}

	return merged
}
