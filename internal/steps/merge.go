package steps

// DeepMerge merges patch into base recursively. Object values merge key by
// key; any non-object value in the patch, including one shadowing an
// existing object, replaces the prior value wholesale. Lists are never
// merged. Neither input is mutated.
func DeepMerge(base, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(patch))
	for key, value := range base {
		merged[key] = value
	}
	for key, patchValue := range patch {
		baseMap, baseIsMap := merged[key].(map[string]any)
		patchMap, patchIsMap := patchValue.(map[string]any)
		if baseIsMap && patchIsMap {
			merged[key] = DeepMerge(baseMap, patchMap)
			continue
		}
		merged[key] = patchValue
	}
	return merged
}
