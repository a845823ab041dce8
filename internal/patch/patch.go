// Package patch applies literal search/replace edits to file contents.
//
// The wire format, carried in the payload of a forge-edit block, is a
// sequence of blocks:
//
//	<<<<<<< SEARCH
//	start_line:42
//	=======
//	old text
//	=======
//	new text
//	>>>>>>> REPLACE
//
// The start_line hint is optional. Edits within one call apply sequentially,
// each matching against the result of the prior edits; the whole call either
// fully succeeds or fails without touching the input.
package patch

import (
	"fmt"
	"strings"
)

const (
	searchMarker  = "<<<<<<< SEARCH"
	separator     = "======="
	replaceMarker = ">>>>>>> REPLACE"
	hintPrefix    = "start_line:"
)

// Edit is a single exact-match substring replacement.
type Edit struct {
	SearchText  string
	ReplaceText string
	// HintLine disambiguates a non-unique SearchText: the occurrence whose
	// starting line is closest to it wins. Zero means no hint.
	HintLine int
}

// ConflictReason classifies an EditConflict.
type ConflictReason string

const (
	// ReasonNotFound: the search text does not occur in the working copy.
	ReasonNotFound ConflictReason = "notFound"
	// ReasonAmbiguous: the search text occurs more than once and no line
	// hint was given.
	ReasonAmbiguous ConflictReason = "ambiguous"
)

// EditConflict reports why an edit could not be applied. It is surfaced to
// the model as a tool-result error so it can retry with a corrected search
// string; it is never fatal.
type EditConflict struct {
	Reason ConflictReason
	Index  int // zero-based position of the failing edit in the set
	Search string
}

func (e *EditConflict) Error() string {
	snippet := e.Search
	if len(snippet) > 80 {
		snippet = snippet[:80] + "..."
	}
	return fmt.Sprintf("edit %d conflict (%s): %q", e.Index, e.Reason, snippet)
}

// ParseBlocks parses the search/replace wire format. Returns an error for a
// structurally broken payload (missing separator or end marker).
func ParseBlocks(payload string) ([]Edit, error) {
	lines := splitLines(payload)
	var edits []Edit

	i := 0
	for i < len(lines) {
		if strings.TrimRight(lines[i], " \t\r") != searchMarker {
			i++
			continue
		}
		i++

		edit := Edit{}
		if i < len(lines) {
			if trimmed := strings.TrimSpace(lines[i]); strings.HasPrefix(trimmed, hintPrefix) {
				var n int
				if _, err := fmt.Sscanf(strings.TrimPrefix(trimmed, hintPrefix), "%d", &n); err == nil && n > 0 {
					edit.HintLine = n
				}
				i++
			}
		}

		if i >= len(lines) || strings.TrimRight(lines[i], " \t\r") != separator {
			return nil, fmt.Errorf("search/replace block %d: missing leading separator", len(edits))
		}
		i++

		searchStart := i
		for i < len(lines) && strings.TrimRight(lines[i], " \t\r") != separator {
			i++
		}
		if i >= len(lines) {
			return nil, fmt.Errorf("search/replace block %d: missing separator after search text", len(edits))
		}
		edit.SearchText = joinLines(lines[searchStart:i])
		i++

		replStart := i
		for i < len(lines) && strings.TrimRight(lines[i], " \t\r") != replaceMarker {
			i++
		}
		if i >= len(lines) {
			return nil, fmt.Errorf("search/replace block %d: missing REPLACE marker", len(edits))
		}
		edit.ReplaceText = joinLines(lines[replStart:i])
		i++

		edits = append(edits, edit)
	}

	if len(edits) == 0 {
		return nil, fmt.Errorf("no search/replace blocks in payload")
	}
	return edits, nil
}

// Apply applies the edits in order against content and returns the new
// content. On any conflict the original content is unusable for partial
// results: the caller must not persist anything.
func Apply(content string, edits []Edit) (string, error) {
	working := content
	for i, edit := range edits {
		next, err := applyOne(working, edit, i)
		if err != nil {
			return "", err
		}
		working = next
	}
	return working, nil
}

func applyOne(content string, edit Edit, index int) (string, error) {
	if edit.SearchText == "" {
		return "", fmt.Errorf("edit %d: empty search text", index)
	}

	offsets := findAll(content, edit.SearchText)
	switch {
	case len(offsets) == 0:
		return "", &EditConflict{Reason: ReasonNotFound, Index: index, Search: edit.SearchText}
	case len(offsets) == 1:
		return replaceAt(content, offsets[0], edit), nil
	case edit.HintLine == 0:
		return "", &EditConflict{Reason: ReasonAmbiguous, Index: index, Search: edit.SearchText}
	}

	// Non-unique with a hint: the occurrence starting closest to the hinted
	// line wins; ties go to the earlier occurrence.
	best := offsets[0]
	bestDist := lineDistance(content, offsets[0], edit.HintLine)
	for _, off := range offsets[1:] {
		if d := lineDistance(content, off, edit.HintLine); d < bestDist {
			best, bestDist = off, d
		}
	}
	return replaceAt(content, best, edit), nil
}

func replaceAt(content string, offset int, edit Edit) string {
	return content[:offset] + edit.ReplaceText + content[offset+len(edit.SearchText):]
}

func findAll(content, search string) []int {
	var offsets []int
	from := 0
	for {
		i := strings.Index(content[from:], search)
		if i < 0 {
			return offsets
		}
		offsets = append(offsets, from+i)
		from += i + 1
	}
}

// lineDistance returns |line(offset) - hint| where lines are 1-based.
func lineDistance(content string, offset, hint int) int {
	line := 1 + strings.Count(content[:offset], "\n")
	if line > hint {
		return line - hint
	}
	return hint - line
}

// splitLines splits on '\n' keeping no terminators. A trailing newline does
// not produce a final empty element.
func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}
