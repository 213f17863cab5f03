package util

import "strings"

// QuoteJoin joins names into the quoted, comma-separated list form the
// device expects for item lists, e.g. `"AI 1/1","AI 1/2"`.
func QuoteJoin(names []string) string {
	return `"` + strings.Join(names, `","`) + `"`
}

// SplitQuoted splits a quoted, comma-separated item list reply into plain
// names. A reply of NONE means no items are selected and yields an empty
// slice.
func SplitQuoted(list string) []string {
	names := strings.Split(list, `","`)
	for i, name := range names {
		names[i] = strings.ReplaceAll(name, `"`, "")
	}
	if len(names) == 1 && names[0] == "NONE" {
		return []string{}
	}
	return names
}

// StripHeader removes an echoed command header from a reply line. Headers
// are colon-rooted command paths followed by a single space; they never
// contain spaces themselves, so the cut happens at the first space. Lines
// that don't start with a colon are returned unchanged.
func StripHeader(line string) string {
	if strings.HasPrefix(line, ":") {
		if idx := strings.IndexByte(line, ' '); idx >= 0 {
			return line[idx+1:]
		}
	}
	return line
}
