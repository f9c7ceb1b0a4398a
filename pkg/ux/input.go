// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// maxInputLen bounds one chat line.
const maxInputLen = 8000

// LineReader reads one line of user input at a time.
//
// ReadLine returns the trimmed line, or io.EOF when the user is done.
type LineReader interface {
	ReadLine() (string, error)
}

// =============================================================================
// ScannerReader
// =============================================================================

// ScannerReader reads lines from any io.Reader. Used for piped input.
type ScannerReader struct {
	scanner *bufio.Scanner
}

// NewScannerReader wraps r.
func NewScannerReader(r io.Reader) *ScannerReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), maxInputLen*4)
	return &ScannerReader{scanner: s}
}

// ReadLine implements LineReader.
func (r *ScannerReader) ReadLine() (string, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(r.scanner.Text()), nil
}

// =============================================================================
// InteractiveReader
// =============================================================================

// InteractiveReader reads lines with a bubbletea text input and up/down
// history navigation.
//
// # Description
//
// Enter submits, Ctrl+C clears the line and returns "", Ctrl+D on an
// empty line returns io.EOF.
//
// # Thread Safety
//
// Not safe for concurrent use.
type InteractiveReader struct {
	prompt     string
	history    []string
	maxHistory int
}

// NewLineReader returns an InteractiveReader when stdin is a terminal and
// a ScannerReader otherwise.
func NewLineReader(prompt string, maxHistory int) LineReader {
	if !IsTerminal(os.Stdin) {
		return NewScannerReader(os.Stdin)
	}
	return &InteractiveReader{prompt: prompt, maxHistory: maxHistory}
}

// ReadLine implements LineReader.
func (r *InteractiveReader) ReadLine() (string, error) {
	ti := textinput.New()
	ti.Prompt = r.prompt
	ti.Focus()
	ti.CharLimit = maxInputLen
	ti.Width = 80

	p := tea.NewProgram(newInputModel(ti, r.history), tea.WithOutput(os.Stderr))
	final, err := p.Run()
	if err != nil {
		return "", err
	}
	result, ok := final.(inputModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type from bubbletea: %T", final)
	}
	if result.eof {
		return "", io.EOF
	}

	line := strings.TrimSpace(result.textInput.Value())
	if line != "" {
		r.addToHistory(line)
	}
	return line, nil
}

func (r *InteractiveReader) addToHistory(line string) {
	if n := len(r.history); n > 0 && r.history[n-1] == line {
		return
	}
	r.history = append(r.history, line)
	if r.maxHistory > 0 && len(r.history) > r.maxHistory {
		r.history = r.history[1:]
	}
}

// inputModel is the bubbletea model behind InteractiveReader.
type inputModel struct {
	textInput    textinput.Model
	history      []string
	historyIndex int
	draft        string
	done         bool
	eof          bool
}

func newInputModel(ti textinput.Model, history []string) inputModel {
	return inputModel{textInput: ti, history: history, historyIndex: -1}
}

func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		return m, cmd
	}

	switch key.Type {
	case tea.KeyEnter:
		m.done = true
		return m, tea.Quit

	case tea.KeyCtrlC:
		m.textInput.SetValue("")
		m.done = true
		return m, tea.Quit

	case tea.KeyCtrlD:
		if m.textInput.Value() == "" {
			m.eof = true
			m.done = true
			return m, tea.Quit
		}
		return m, nil

	case tea.KeyUp:
		if len(m.history) == 0 {
			return m, nil
		}
		if m.historyIndex == -1 {
			m.draft = m.textInput.Value()
			m.historyIndex = len(m.history) - 1
		} else if m.historyIndex > 0 {
			m.historyIndex--
		}
		m.textInput.SetValue(m.history[m.historyIndex])
		m.textInput.CursorEnd()
		return m, nil

	case tea.KeyDown:
		if m.historyIndex == -1 {
			return m, nil
		}
		if m.historyIndex < len(m.history)-1 {
			m.historyIndex++
			m.textInput.SetValue(m.history[m.historyIndex])
		} else {
			m.historyIndex = -1
			m.textInput.SetValue(m.draft)
		}
		m.textInput.CursorEnd()
		return m, nil
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	if m.done {
		return ""
	}
	return m.textInput.View()
}
