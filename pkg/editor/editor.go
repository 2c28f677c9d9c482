// Package editor is the input handling of the interactive step selector.
//
// It is a finite-state machine over a list of toggles. Rendering is left
// to the caller, so the editor can be driven by a terminal UI or by tests.
package editor

import "fmt"

// Item is one toggle in the list.
type Item struct {
	ID      string
	Label   string
	Enabled bool
	Locked  bool
}

// State is the editor's lifecycle state.
type State int

const (
	// Editing accepts input.
	Editing State = iota
	// Committed means the operator accepted the selection.
	Committed
	// Cancelled means the operator discarded the selection.
	Cancelled
)

func (s State) String() string {
	switch s {
	case Editing:
		return "editing"
	case Committed:
		return "committed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Key is an abstract input event.
type Key int

// Keys understood by Handle.
const (
	KeyUp Key = iota
	KeyDown
	KeyHome
	KeyEnd
	KeyToggle
	KeySelectAll
	KeySelectNone
	KeyCommit
	KeyCancel
)

// Editor holds the list, the cursor and the lifecycle state.
type Editor struct {
	items   []Item
	initial []bool
	cursor  int
	state   State
	message string
}

// New returns an editor over a copy of items.
func New(items []Item) *Editor {
	e := &Editor{
		items:   append([]Item(nil), items...),
		initial: make([]bool, len(items)),
	}
	for i, it := range items {
		e.initial[i] = it.Enabled
	}
	return e
}

// Handle applies one key and returns the resulting state. Input after
// commit or cancel is ignored.
func (e *Editor) Handle(k Key) State {
	if e.state != Editing {
		return e.state
	}
	e.message = ""

	switch k {
	case KeyUp:
		if e.cursor > 0 {
			e.cursor--
		}
	case KeyDown:
		if e.cursor < len(e.items)-1 {
			e.cursor++
		}
	case KeyHome:
		e.cursor = 0
	case KeyEnd:
		if len(e.items) > 0 {
			e.cursor = len(e.items) - 1
		}
	case KeyToggle:
		e.toggle()
	case KeySelectAll:
		e.setAll(true)
	case KeySelectNone:
		e.setAll(false)
	case KeyCommit:
		e.state = Committed
	case KeyCancel:
		e.state = Cancelled
	}
	return e.state
}

func (e *Editor) toggle() {
	if len(e.items) == 0 {
		return
	}
	it := &e.items[e.cursor]
	if it.Locked {
		e.message = it.Label + " is locked"
		return
	}
	it.Enabled = !it.Enabled
}

func (e *Editor) setAll(enabled bool) {
	locked := 0
	for i := range e.items {
		if e.items[i].Locked {
			locked++
			continue
		}
		e.items[i].Enabled = enabled
	}
	if locked > 0 {
		e.message = fmt.Sprintf("%d locked item(s) unchanged", locked)
	}
}

// Items returns a copy of the current list.
func (e *Editor) Items() []Item {
	return append([]Item(nil), e.items...)
}

// Cursor returns the index of the highlighted item.
func (e *Editor) Cursor() int { return e.cursor }

// State returns the lifecycle state.
func (e *Editor) State() State { return e.state }

// Message returns feedback from the last key, such as a locked toggle.
func (e *Editor) Message() string { return e.message }

// Changes returns the ids whose enabled state differs from the initial
// list, mapped to their new state.
func (e *Editor) Changes() map[string]bool {
	changes := make(map[string]bool)
	for i, it := range e.items {
		if it.Enabled != e.initial[i] {
			changes[it.ID] = it.Enabled
		}
	}
	return changes
}

// Dirty reports whether anything changed.
func (e *Editor) Dirty() bool {
	return len(e.Changes()) > 0
}
