package record

import (
	"sort"
	"strings"
	"time"
)

// noteTimestampLayout stamps appended note entries.
const noteTimestampLayout = "2006-01-02 15:04:05"

// Change describes the merge outcome for a single proposed field.
type Change struct {
	Field  Field
	Action string
}

// ChangeSummary lists one Change per proposed field, in vocabulary order.
type ChangeSummary []Change

// String renders the summary as "field: action" lines for logs and the UI.
func (s ChangeSummary) String() string {
	if len(s) == 0 {
		return "no changes"
	}
	parts := make([]string, len(s))
	for i, c := range s {
		parts[i] = string(c.Field) + ": " + c.Action
	}
	return strings.Join(parts, "; ")
}

// Merge folds the proposed update into the current record and returns the
// exact column values to persist plus a per-field summary. It is a pure
// function: no I/O, no mutation of current, and it never fails; malformed
// input degrades to "nothing to update". An empty Updates map means the
// caller must not write the record (and must not bump updated_at).
//
// Rules, per field kind:
//
//   - Protected fields (names, age, gender, date of birth, audit columns)
//     are never written; proposals for them are reported and dropped.
//   - List fields merge as case-insensitive sets: items are split on commas,
//     trimmed, and blank or "none" items discarded. Items already present
//     are not duplicated; genuinely new items extend the stored list, which
//     is re-joined sorted by lowercase. The proposal's casing wins for items
//     it mentions.
//   - Notes append: new text is stamped and added below the existing notes,
//     never replacing them.
//
// now supplies the note timestamp so callers (and tests) control time.
func Merge(current *PatientRecord, proposed ProposedUpdate, now time.Time) (Updates, ChangeSummary) {
	if current == nil {
		current = &PatientRecord{}
	}

	updates := Updates{}
	var summary ChangeSummary

	// Vocabulary order keeps the summary deterministic.
	for _, field := range ExtractableFields() {
		value, ok := proposed[field]
		if !ok {
			continue
		}
		if strings.TrimSpace(value) == "" {
			summary = append(summary, Change{field, "skipped (no value provided)"})
			continue
		}
		if Protected(field) {
			summary = append(summary, Change{field, "protected field (not modified)"})
			continue
		}

		if field == FieldNotes {
			updates[field] = appendNote(current.Notes, value, now)
			summary = append(summary, Change{field, "appended note entry"})
			continue
		}

		merged, action := mergeList(current.Value(field), value)
		summary = append(summary, Change{field, action})
		if merged != "" {
			updates[field] = merged
		}
	}

	return updates, summary
}

// appendNote stamps text and appends it below existing notes. Every entry
// carries a bracketed timestamp; a record with no notes yet gets the stamped
// entry alone, without the blank-line separator.
func appendNote(existing, text string, now time.Time) string {
	entry := "[" + now.Format(noteTimestampLayout) + "]\n" + text
	if isEmptyValue(existing) {
		return entry
	}
	return existing + "\n\n" + entry
}

// mergeList merges a proposed comma-joined list into the current one.
// It returns the new column value ("" when the field must not be written)
// and the summary action.
func mergeList(current, proposed string) (string, string) {
	newItems := splitItems(proposed)
	if len(newItems) == 0 {
		return "", "skipped (no value provided)"
	}

	if isEmptyValue(current) {
		return proposed, "set initial value"
	}

	existing := splitItems(current)
	existingSet := make(map[string]string, len(existing)) // lowercase -> stored casing
	for _, item := range existing {
		key := strings.ToLower(item)
		if _, ok := existingSet[key]; !ok {
			existingSet[key] = item
		}
	}

	var added []string
	merged := existingSet
	for _, item := range newItems {
		key := strings.ToLower(item)
		if _, ok := merged[key]; !ok {
			added = append(added, item)
		}
		// The proposal's casing wins even for items already present.
		merged[key] = item
	}

	if len(added) == 0 {
		return "", "no new items to add"
	}
	sort.Slice(added, func(i, j int) bool {
		return strings.ToLower(added[i]) < strings.ToLower(added[j])
	})
	return joinSorted(merged), "added new items: " + strings.Join(added, ", ")
}

// ListItems tokenizes a comma-joined list column into its items, dropping
// blank and "none" entries. Used by callers that need the stored collections
// as real slices (lexicon building, dashboard rendering).
func ListItems(s string) []string {
	return splitItems(s)
}

// splitItems tokenizes a comma-joined list: items are trimmed, and blank or
// "none" entries (any casing) dropped.
func splitItems(s string) []string {
	var items []string
	for _, raw := range strings.Split(s, ",") {
		item := strings.TrimSpace(raw)
		if item == "" || strings.EqualFold(item, "none") {
			continue
		}
		items = append(items, item)
	}
	return items
}

// joinSorted renders the merged set sorted by lowercase key.
func joinSorted(set map[string]string) string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	items := make([]string, len(keys))
	for i, key := range keys {
		items[i] = set[key]
	}
	return strings.Join(items, ", ")
}

// isEmptyValue reports whether a stored column counts as unset: NULL (empty
// string) or the literal "None" that legacy rows carry.
func isEmptyValue(s string) bool {
	trimmed := strings.TrimSpace(s)
	return trimmed == "" || trimmed == "None"
}
