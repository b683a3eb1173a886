package engine

import "strings"

// acceleratorKey extracts the single-character accelerator from a label
// such as "&Yes" -> "y", "N&o" -> "o". Labels with no '&' get their first
// rune lowercased as the key. Used to build single-keystroke options for
// a human gate's multiple-choice prompt.
func acceleratorKey(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return ""
	}
	if idx := strings.IndexByte(label, '&'); idx >= 0 && idx+1 < len(label) {
		return strings.ToLower(string(label[idx+1]))
	}
	r := []rune(label)
	return strings.ToLower(string(r[0]))
}

// normalizeLabel strips the accelerator marker and lower-cases a label for
// comparison, so "preferred_label" routing matches regardless of whether
// the author wrote "&Retry" or "Retry".
func normalizeLabel(label string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(label), "&", ""))
}
