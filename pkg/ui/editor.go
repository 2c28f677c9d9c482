package ui

import (
	"context"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/openfroyo/upkeep/pkg/config"
	"github.com/openfroyo/upkeep/pkg/editor"
	"github.com/openfroyo/upkeep/pkg/engine"
)

var keymap = map[string]editor.Key{
	"up":     editor.KeyUp,
	"k":      editor.KeyUp,
	"down":   editor.KeyDown,
	"j":      editor.KeyDown,
	"home":   editor.KeyHome,
	"g":      editor.KeyHome,
	"end":    editor.KeyEnd,
	"G":      editor.KeyEnd,
	" ":      editor.KeyToggle,
	"x":      editor.KeyToggle,
	"a":      editor.KeySelectAll,
	"n":      editor.KeySelectNone,
	"enter":  editor.KeyCommit,
	"s":      editor.KeyCommit,
	"q":      editor.KeyCancel,
	"esc":    editor.KeyCancel,
	"ctrl+c": editor.KeyCancel,
}

// EditorModel is the bubbletea view of an editor.Editor.
type EditorModel struct {
	title string
	ed    *editor.Editor
}

// NewEditorModel wraps ed.
func NewEditorModel(title string, ed *editor.Editor) *EditorModel {
	return &EditorModel{title: title, ed: ed}
}

// Editor returns the underlying state machine.
func (m *EditorModel) Editor() *editor.Editor { return m.ed }

func (m *EditorModel) Init() tea.Cmd { return nil }

func (m *EditorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	k, ok := keymap[key.String()]
	if !ok {
		return m, nil
	}
	if m.ed.Handle(k) != editor.Editing {
		return m, tea.Quit
	}
	return m, nil
}

func (m *EditorModel) View() string {
	if m.ed.State() != editor.Editing {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(Bold(m.title) + "\n\n")
	for i, it := range m.ed.Items() {
		cursor := "  "
		if i == m.ed.Cursor() {
			cursor = CursorStyle.Render("> ")
		}
		box := "[ ]"
		if it.Enabled {
			box = SuccessStyle.Render("[x]")
		}
		label := it.Label
		if it.Locked {
			label += " " + Muted("(locked)")
		}
		fmt.Fprintf(&sb, "%s%s %s\n", cursor, box, label)
	}
	sb.WriteString("\n")
	if msg := m.ed.Message(); msg != "" {
		sb.WriteString(WarnMsg("%s", msg) + "\n")
	}
	sb.WriteString(Muted("space toggle · a all · n none · enter save · q cancel") + "\n")
	return sb.String()
}

// RunEditor shows an editor over items and returns it once the operator
// commits or cancels.
func RunEditor(ctx context.Context, title string, items []editor.Item, in io.Reader, out io.Writer) (*editor.Editor, error) {
	m := NewEditorModel(title, editor.New(items))
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithInput(in), tea.WithOutput(out))
	if _, err := p.Run(); err != nil {
		return nil, fmt.Errorf("step editor: %w", err)
	}
	return m.ed, nil
}

// StepItems lists the catalog steps of cfg in execution order.
func StepItems(cfg *config.Configuration) []editor.Item {
	steps := config.Catalog()
	items := make([]editor.Item, 0, len(steps))
	for _, s := range steps {
		label := s.Title
		if len(s.DependsOn) > 0 {
			deps := make([]string, len(s.DependsOn))
			for i, d := range s.DependsOn {
				deps[i] = string(d)
			}
			label += Muted(" (needs " + strings.Join(deps, ", ") + ")")
		}
		items = append(items, editor.Item{
			ID:      string(s.ID),
			Label:   label,
			Enabled: cfg.Enabled(s.ID),
			Locked:  cfg.Locked(s.ID),
		})
	}
	return items
}

// NotifierItems lists the notifiers of cfg.
func NotifierItems(cfg *config.Configuration) []editor.Item {
	items := make([]editor.Item, 0, len(config.Notifiers))
	for _, n := range config.Notifiers {
		items = append(items, editor.Item{
			ID:      n,
			Label:   "Notify via " + n,
			Enabled: cfg.NotifierEnabled(n),
			Locked:  cfg.Notifiers[n].Locked,
		})
	}
	return items
}

// ApplySteps writes committed step changes into cfg.
func ApplySteps(cfg *config.Configuration, changes map[string]bool) error {
	for id, enabled := range changes {
		if err := cfg.Apply(engine.StepID(id), enabled); err != nil {
			return err
		}
	}
	return nil
}

// ApplyNotifiers writes committed notifier changes into cfg.
func ApplyNotifiers(cfg *config.Configuration, changes map[string]bool) error {
	for name, enabled := range changes {
		if err := cfg.ApplyNotifier(name, enabled); err != nil {
			return err
		}
	}
	return nil
}
