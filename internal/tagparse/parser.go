package tagparse

import (
	"strings"
)

// maxTagBytes bounds how long the parser will wait for a start marker's
// closing '>' before giving up and emitting the span as plain text.
const maxTagBytes = 4096

// Parser is an incremental tag-protocol parser. Zero value is not usable;
// call NewParser. Not safe for concurrent use — one parser per stream.
type Parser struct {
	buf     string
	active  string // wire tag name of the open block, "" when outside
	depth   int
	payload strings.Builder
	pending *Block
	closed  bool
}

// NewParser returns a parser ready to consume a stream.
func NewParser() *Parser {
	return &Parser{}
}

// Feed consumes the next stream fragment and returns the events it
// completes. Text held back because it may be a partial marker is carried
// into the next Feed or Close call.
func (p *Parser) Feed(fragment string) []Event {
	if p.closed {
		return nil
	}
	p.buf += fragment
	var events []Event
	for {
		var progressed bool
		if p.pending == nil {
			progressed = p.scanText(&events)
		} else {
			progressed = p.scanBlock(&events)
		}
		if !progressed {
			return events
		}
	}
}

// Close ends the stream. An unterminated block is emitted as aborted with
// whatever partial payload was accumulated; held-back text flushes verbatim.
func (p *Parser) Close() []Event {
	if p.closed {
		return nil
	}
	p.closed = true
	var events []Event
	if p.pending != nil {
		p.payload.WriteString(p.buf)
		p.buf = ""
		p.finish(&events, StateAborted)
		return events
	}
	if p.buf != "" {
		events = append(events, Event{Text: p.buf})
		p.buf = ""
	}
	return events
}

// scanText advances over plain text until a start marker opens a block.
// Returns false when it needs more input.
func (p *Parser) scanText(events *[]Event) bool {
	i := strings.IndexByte(p.buf, '<')
	if i < 0 {
		if p.buf != "" {
			*events = append(*events, Event{Text: p.buf})
			p.buf = ""
		}
		return false
	}
	if i > 0 {
		*events = append(*events, Event{Text: p.buf[:i]})
		p.buf = p.buf[i:]
	}

	// buf starts with '<'. Decide whether it can still become a start marker.
	if !hasMarkerPrefix(p.buf) {
		*events = append(*events, Event{Text: p.buf[:1]})
		p.buf = p.buf[1:]
		return p.buf != ""
	}

	gt := strings.IndexByte(p.buf, '>')
	if gt < 0 {
		if len(p.buf) > maxTagBytes {
			*events = append(*events, Event{Text: p.buf})
			p.buf = ""
		}
		return false // wait for the rest of the marker
	}

	raw := p.buf[:gt+1]
	name, attrs, selfClosing, ok := parseStartTag(raw)
	if !ok {
		// Malformed attributes or an unknown kind: the whole span degrades
		// to plain text. Never an error.
		*events = append(*events, Event{Text: raw})
		p.buf = p.buf[gt+1:]
		return p.buf != ""
	}

	p.buf = p.buf[gt+1:]
	block := &Block{Kind: tagNames[name], Attrs: attrs, State: StatePending}
	p.pending = block
	p.active = name
	p.depth = 1
	p.payload.Reset()
	*events = append(*events, Event{Block: block})
	if selfClosing {
		p.finish(events, StateFinished)
	}
	return true
}

// scanBlock advances inside an open block, counting same-kind open and close
// markers so a nested occurrence does not prematurely close the outer block.
// Returns false when it needs more input.
func (p *Parser) scanBlock(events *[]Event) bool {
	open := "<" + p.active
	close := "</" + p.active + ">"

	oi := indexOpenMarker(p.buf, open)
	ci := strings.Index(p.buf, close)

	switch {
	case ci >= 0 && (oi < 0 || ci < oi):
		if p.depth == 1 {
			p.payload.WriteString(p.buf[:ci])
			p.buf = p.buf[ci+len(close):]
			p.finish(events, StateFinished)
			return true
		}
		p.depth--
		p.payload.WriteString(p.buf[:ci+len(close)])
		p.buf = p.buf[ci+len(close):]
		return true

	case oi >= 0:
		// A nested start marker of the active kind. A self-closing one
		// ("<forge-kind .../>") has no close marker, so it must not raise the
		// depth; wait until its terminating '>' is buffered to tell the two
		// apart.
		gt := strings.IndexByte(p.buf[oi:], '>')
		if gt < 0 {
			if len(p.buf)-oi > maxTagBytes {
				p.depth++
				p.payload.WriteString(p.buf[:oi+len(open)])
				p.buf = p.buf[oi+len(open):]
				return true
			}
			p.payload.WriteString(p.buf[:oi])
			p.buf = p.buf[oi:]
			return false
		}
		end := oi + gt + 1
		if p.buf[end-2] == '/' {
			p.payload.WriteString(p.buf[:end])
			p.buf = p.buf[end:]
			return true
		}
		p.depth++
		p.payload.WriteString(p.buf[:oi+len(open)])
		p.buf = p.buf[oi+len(open):]
		return true

	default:
		// No full marker in the buffer. Hold back a tail that could still be
		// the prefix of one.
		keep := markerPrefixLen(p.buf, open, close)
		p.payload.WriteString(p.buf[:len(p.buf)-keep])
		p.buf = p.buf[len(p.buf)-keep:]
		return false
	}
}

func (p *Parser) finish(events *[]Event, state State) {
	b := p.pending
	b.Payload = p.payload.String()
	b.State = state
	p.pending = nil
	p.active = ""
	p.depth = 0
	p.payload.Reset()
	*events = append(*events, Event{Block: b})
}

// hasMarkerPrefix reports whether buf (starting at '<') is, or may still
// grow into, a start marker of some known kind.
func hasMarkerPrefix(buf string) bool {
	const lead = "<forge-"
	n := len(buf)
	if n > len(lead) {
		n = len(lead)
	}
	if buf[:n] != lead[:n] {
		return false
	}
	if len(buf) <= len(lead) {
		return true // still ambiguous, hold
	}
	rest := buf[1:]
	for name := range tagNames {
		if strings.HasPrefix(rest, name) || strings.HasPrefix(name, rest[:min(len(rest), len(name))]) {
			return true
		}
	}
	return false
}

// indexOpenMarker finds the first occurrence of open ("<forge-kind") that is
// a real start marker, i.e. followed by whitespace, '>', or '/'.
func indexOpenMarker(s, open string) int {
	from := 0
	for {
		i := strings.Index(s[from:], open)
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(open)
		if end >= len(s) {
			return i // boundary byte not seen yet; caller holds back
		}
		switch s[end] {
		case ' ', '\t', '\n', '\r', '>', '/':
			return i
		}
		from = i + 1
	}
}

// markerPrefixLen returns how many trailing bytes of s form a proper prefix
// of either marker and must be held back for the next fragment.
func markerPrefixLen(s, open, close string) int {
	max := len(close)
	if len(open) > max {
		max = len(open)
	}
	if max > len(s) {
		max = len(s)
	}
	for k := max; k > 0; k-- {
		tail := s[len(s)-k:]
		if strings.HasPrefix(open, tail) || strings.HasPrefix(close, tail) {
			return k
		}
	}
	return 0
}

// parseStartTag parses "<forge-kind attr="v" ...>" or "<forge-kind ... />".
// ok is false for unknown kinds or malformed attribute syntax.
func parseStartTag(raw string) (name string, attrs map[string]string, selfClosing bool, ok bool) {
	inner := raw[1 : len(raw)-1] // strip < >
	if strings.HasSuffix(inner, "/") {
		selfClosing = true
		inner = strings.TrimRight(inner[:len(inner)-1], " \t\n\r")
	}

	name = inner
	rest := ""
	if i := strings.IndexAny(inner, " \t\n\r"); i >= 0 {
		name = inner[:i]
		rest = inner[i:]
	}
	if _, known := tagNames[name]; !known {
		return "", nil, false, false
	}

	attrs = map[string]string{}
	for {
		rest = strings.TrimLeft(rest, " \t\n\r")
		if rest == "" {
			return name, attrs, selfClosing, true
		}
		eq := strings.IndexByte(rest, '=')
		if eq <= 0 {
			return "", nil, false, false
		}
		key := rest[:eq]
		if strings.ContainsAny(key, " \t\n\r\"'") {
			return "", nil, false, false
		}
		rest = rest[eq+1:]
		if len(rest) < 2 || rest[0] != '"' {
			return "", nil, false, false
		}
		end := strings.IndexByte(rest[1:], '"')
		if end < 0 {
			return "", nil, false, false
		}
		attrs[key] = rest[1 : 1+end]
		rest = rest[end+2:]
	}
}
