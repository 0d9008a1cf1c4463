package appdata

// Merge recursively merges patch into a copy of base and returns the result.
// When both sides hold an object under the same key the objects merge
// recursively; in every other case, including kind mismatches, the patch value
// replaces the base value wholesale. Keys present only in base survive
// untouched. Neither input is mutated.
func Merge(base, patch Document) Document {
	if !base.IsObject() || !patch.IsObject() {
		return patch.Clone()
	}

	merged := make(map[string]Document, base.Len()+patch.Len())
	for key, value := range base.objectValue {
		merged[key] = value.Clone()
	}
	for key, patchValue := range patch.objectValue {
		baseValue, exists := merged[key]
		if exists && baseValue.IsObject() && patchValue.IsObject() {
			merged[key] = Merge(baseValue, patchValue)
			continue
		}
		merged[key] = patchValue.Clone()
	}
	return Document{kind: KindObject, objectValue: merged}
}
