// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

func plainPrinter() (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return &Printer{Out: &out, Err: &errOut, Plain: true}, &out, &errOut
}

// =============================================================================
// Icon.Render Tests
// =============================================================================

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconBullet} {
		if icon.Render() == "" {
			t.Errorf("expected non-empty render for %q", icon)
		}
	}
	if IconBullet.Render() != string(IconBullet) {
		t.Error("unstyled icons should render as-is")
	}
}

// =============================================================================
// Printer Tests
// =============================================================================

func TestPrinter_PlainPrefixes(t *testing.T) {
	p, out, errOut := plainPrinter()

	p.Title("ignored")
	p.Muted("ignored")
	p.Success("indexed")
	p.Info("note")
	p.Warning("careful")
	p.Error("broken")

	if got := out.String(); got != "OK: indexed\nnote\n" {
		t.Errorf("stdout = %q", got)
	}
	if got := errOut.String(); got != "WARN: careful\nERROR: broken\n" {
		t.Errorf("stderr = %q", got)
	}
}

func TestPrinter_PlainAnswer(t *testing.T) {
	p, out, _ := plainPrinter()
	p.Answer("  Take a 20 second break.  ")
	if got := out.String(); got != "  Take a 20 second break.  \n" {
		t.Errorf("answer = %q", got)
	}
}

func TestPrinter_PlainSummary(t *testing.T) {
	p, out, _ := plainPrinter()
	p.Summary("documents", 3, "chunks", 12, "dangling")
	if got := out.String(); got != "SUMMARY: documents=3 chunks=12\n" {
		t.Errorf("summary = %q", got)
	}
}

func TestPrinter_RichAnswerContainsText(t *testing.T) {
	var out bytes.Buffer
	p := &Printer{Out: &out, Err: io.Discard}
	p.Answer("Blink more often.")
	if !strings.Contains(out.String(), "Blink more often.") {
		t.Errorf("rich answer missing text: %q", out.String())
	}
	if !strings.Contains(out.String(), "AEye") {
		t.Errorf("rich answer missing header: %q", out.String())
	}
}

// =============================================================================
// ScannerReader Tests
// =============================================================================

func TestScannerReader(t *testing.T) {
	r := NewScannerReader(strings.NewReader("  hello \n\nwhat is dry eye?\n"))

	want := []string{"hello", "", "what is dry eye?"}
	for _, w := range want {
		got, err := r.ReadLine()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != w {
			t.Errorf("ReadLine() = %q, want %q", got, w)
		}
	}
	if _, err := r.ReadLine(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

// =============================================================================
// inputModel Tests
// =============================================================================

func update(m inputModel, msg tea.Msg) inputModel {
	next, _ := m.Update(msg)
	return next.(inputModel)
}

func TestInputModel_HistoryNavigation(t *testing.T) {
	ti := textinput.New()
	ti.Focus()
	m := newInputModel(ti, []string{"first", "second"})
	m.textInput.SetValue("draft")

	m = update(m, tea.KeyMsg{Type: tea.KeyUp})
	if got := m.textInput.Value(); got != "second" {
		t.Errorf("after up: %q", got)
	}
	m = update(m, tea.KeyMsg{Type: tea.KeyUp})
	if got := m.textInput.Value(); got != "first" {
		t.Errorf("after up up: %q", got)
	}
	m = update(m, tea.KeyMsg{Type: tea.KeyUp})
	if got := m.textInput.Value(); got != "first" {
		t.Errorf("up past oldest: %q", got)
	}
	m = update(m, tea.KeyMsg{Type: tea.KeyDown})
	m = update(m, tea.KeyMsg{Type: tea.KeyDown})
	if got := m.textInput.Value(); got != "draft" {
		t.Errorf("down back to draft: %q", got)
	}
}

func TestInputModel_CtrlD(t *testing.T) {
	ti := textinput.New()
	m := newInputModel(ti, nil)

	m = update(m, tea.KeyMsg{Type: tea.KeyCtrlD})
	if !m.eof || !m.done {
		t.Error("ctrl+d on an empty line should signal EOF")
	}

	m = newInputModel(textinput.New(), nil)
	m.textInput.SetValue("typing")
	m = update(m, tea.KeyMsg{Type: tea.KeyCtrlD})
	if m.eof {
		t.Error("ctrl+d with text should be ignored")
	}
}

func TestInputModel_CtrlCClears(t *testing.T) {
	m := newInputModel(textinput.New(), nil)
	m.textInput.SetValue("oops")
	m = update(m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if m.textInput.Value() != "" || !m.done || m.eof {
		t.Errorf("ctrl+c should clear without EOF: %+v", m)
	}
}

func TestInteractiveReader_History(t *testing.T) {
	r := &InteractiveReader{maxHistory: 2}
	r.addToHistory("a")
	r.addToHistory("a")
	r.addToHistory("b")
	r.addToHistory("c")
	if strings.Join(r.history, ",") != "b,c" {
		t.Errorf("history = %v", r.history)
	}
}
