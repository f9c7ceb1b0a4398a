// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling and line input for the aeye
// CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// AEye color palette, calm greens for a screen-break reminder app.
var (
	ColorMint    = lipgloss.Color("#6EE7B7") // highlights, success
	ColorSage    = lipgloss.Color("#34A37F") // primary brand color
	ColorForest  = lipgloss.Color("#1F6F57") // borders
	ColorSlate   = lipgloss.Color("#5B6B73") // muted text
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Assistant lipgloss.Style

	AnswerBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorMint),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorMint),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Assistant: lipgloss.NewStyle().Bold(true).Foreground(ColorSage),

	AnswerBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorForest).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBullet  Icon = "•"
	IconEye     Icon = "◉"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// Printer writes styled output, or plain prefixed lines when Plain is set.
//
// Plain output is meant for pipes and scripts: no ANSI codes, one
// "LEVEL: message" line per call.
type Printer struct {
	Out   io.Writer
	Err   io.Writer
	Plain bool
}

// NewPrinter returns a Printer on stdout and stderr. Output is plain when
// stdout is not a terminal.
func NewPrinter() *Printer {
	return &Printer{Out: os.Stdout, Err: os.Stderr, Plain: !IsTerminal(os.Stdout)}
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Title prints a styled title. Nothing in plain mode.
func (p *Printer) Title(text string) {
	if p.Plain {
		return
	}
	fmt.Fprintln(p.Out, Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	if p.Plain {
		fmt.Fprintf(p.Out, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	if p.Plain {
		fmt.Fprintf(p.Err, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.Err, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error message
func (p *Printer) Error(text string) {
	if p.Plain {
		fmt.Fprintf(p.Err, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.Err, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Info prints an informational message
func (p *Printer) Info(text string) {
	if p.Plain {
		fmt.Fprintln(p.Out, text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Muted prints secondary text. Nothing in plain mode.
func (p *Printer) Muted(text string) {
	if p.Plain {
		return
	}
	fmt.Fprintln(p.Out, Styles.Muted.Render(text))
}

// Answer prints an assistant reply, boxed and wrapped to 72 columns.
func (p *Printer) Answer(text string) {
	if p.Plain {
		fmt.Fprintln(p.Out, text)
		return
	}
	header := Styles.Assistant.Render(string(IconEye) + " AEye")
	fmt.Fprintln(p.Out, Styles.AnswerBox.Width(72).Render(header+"\n"+strings.TrimSpace(text)))
}

// Summary prints "label=value" counts, for example after an ingest.
func (p *Printer) Summary(pairs ...any) {
	var parts []string
	for i := 0; i+1 < len(pairs); i += 2 {
		label := fmt.Sprint(pairs[i])
		value := fmt.Sprint(pairs[i+1])
		if p.Plain {
			parts = append(parts, label+"="+value)
			continue
		}
		parts = append(parts, Styles.Bold.Render(value)+" "+Styles.Muted.Render(label))
	}
	if p.Plain {
		fmt.Fprintf(p.Out, "SUMMARY: %s\n", strings.Join(parts, " "))
		return
	}
	fmt.Fprintln(p.Out, strings.Join(parts, "  "))
}
