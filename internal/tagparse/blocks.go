// Package tagparse incrementally extracts command blocks from a model's
// output stream. The model writes plain prose interleaved with forge tags:
//
//	I'll create the component now.
//	<forge-write path="src/App.tsx" description="Main app component">
//	export default function App() { ... }
//	</forge-write>
//
// The parser consumes arbitrary fragments (a tag may be split at any byte)
// and produces TextSpan and CommandBlock events in arrival order. The event
// sequence mirrors one live stream: append-only, not restartable.
package tagparse

// Kind identifies a command block type.
type Kind string

const (
	KindWrite  Kind = "write"  // full file write
	KindEdit   Kind = "edit"   // search/replace edit payload
	KindRename Kind = "rename" // rename, attrs from/to
	KindDelete Kind = "delete" // delete, attr path
	KindTool   Kind = "tool"   // tool invocation, attrs name/id, JSON payload
	KindStatus Kind = "status" // status marker, attrs title/state
)

// tagNames maps the wire tag name to its block kind. Unknown tag names pass
// through as plain text.
var tagNames = map[string]Kind{
	"forge-write":  KindWrite,
	"forge-edit":   KindEdit,
	"forge-rename": KindRename,
	"forge-delete": KindDelete,
	"forge-tool":   KindTool,
	"forge-status": KindStatus,
}

// State is a block's lifecycle state.
type State string

const (
	StatePending  State = "pending"
	StateFinished State = "finished"
	StateAborted  State = "aborted"
)

// Block is a typed unit extracted from the stream. A block is emitted once
// with StatePending when its start marker is recognized, and exactly once
// more as StateFinished or StateAborted. It is immutable after that second
// emission.
type Block struct {
	Kind    Kind
	Attrs   map[string]string
	Payload string
	State   State
}

// Attr returns the named attribute or "".
func (b *Block) Attr(name string) string {
	return b.Attrs[name]
}

// Event is one element of the parsed sequence: either a text span or a
// block lifecycle notification.
type Event struct {
	// Text is the span content when Block is nil.
	Text string
	// Block is non-nil for block events.
	Block *Block
}

// IsText reports whether the event is a plain text span.
func (e Event) IsText() bool { return e.Block == nil }
