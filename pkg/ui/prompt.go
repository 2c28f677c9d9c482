package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TokenPrompt asks the operator to type a confirmation token. The answer
// is returned verbatim; callers decide whether it matches.
type TokenPrompt struct {
	in  io.Reader
	out io.Writer
}

// NewTokenPrompt creates a prompt reading from in and drawing on out.
func NewTokenPrompt(in io.Reader, out io.Writer) *TokenPrompt {
	return &TokenPrompt{in: in, out: out}
}

// Ask implements the pipeline prompter.
func (p *TokenPrompt) Ask(ctx context.Context, message string) (string, error) {
	ti := textinput.New()
	ti.Placeholder = "type YES to continue"
	ti.Focus()
	ti.PromptStyle = AccentStyle
	ti.TextStyle = lipgloss.NewStyle()

	m := &promptModel{label: message, textInput: ti}
	prog := tea.NewProgram(m, tea.WithContext(ctx), tea.WithInput(p.in), tea.WithOutput(p.out))
	if _, err := prog.Run(); err != nil {
		return "", fmt.Errorf("confirmation prompt: %w", err)
	}
	if m.cancelled {
		return "", ErrCancelled
	}
	return m.textInput.Value(), nil
}

// LinePrompt reads one line of input. It serves pipes and dumb terminals.
type LinePrompt struct {
	in  *bufio.Reader
	out io.Writer
}

// NewLinePrompt creates a line based prompt.
func NewLinePrompt(in io.Reader, out io.Writer) *LinePrompt {
	return &LinePrompt{in: bufio.NewReader(in), out: out}
}

// Ask implements the pipeline prompter.
func (p *LinePrompt) Ask(ctx context.Context, message string) (string, error) {
	fmt.Fprintf(p.out, "%s\n> ", message)

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-ch:
		if a.err != nil && a.err != io.EOF {
			return "", a.err
		}
		if a.err == io.EOF && a.line == "" {
			return "", ErrCancelled
		}
		return strings.TrimRight(a.line, "\r\n"), nil
	}
}

type promptModel struct {
	label     string
	textInput textinput.Model
	cancelled bool
	submitted bool
}

func (m *promptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "enter":
			m.submitted = true
			return m, tea.Quit
		case "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m *promptModel) View() string {
	if m.submitted || m.cancelled {
		return ""
	}
	return WarnStyle.Render("!") + " " + m.label + "\n" + m.textInput.View() + "\n"
}
