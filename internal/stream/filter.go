// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package stream

import (
	"fmt"
	"regexp"
	"strings"
)

// FilterMode selects how aggressively terminal escape sequences are
// rewritten for renderers that cannot replay them.
type FilterMode int

const (
	// FilterNone passes bytes through untouched.
	FilterNone FilterMode = iota
	// FilterLight strips only cursor-positioning sequences.
	FilterLight
	// FilterMedium strips complex control sequences, collapses
	// carriage-return overwrites and substitutes glyphs.
	FilterMedium
	// FilterHeavy strips all escape sequences, with the same collapsing
	// and substitution as FilterMedium.
	FilterHeavy
)

// ParseFilterMode maps a config string to a FilterMode.
func ParseFilterMode(s string) (FilterMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return FilterNone, nil
	case "light":
		return FilterLight, nil
	case "medium":
		return FilterMedium, nil
	case "heavy":
		return FilterHeavy, nil
	}
	return FilterNone, fmt.Errorf("unknown filter mode %q", s)
}

func (m FilterMode) String() string {
	switch m {
	case FilterNone:
		return "none"
	case FilterLight:
		return "light"
	case FilterMedium:
		return "medium"
	case FilterHeavy:
		return "heavy"
	}
	return "none"
}

var (
	// Cursor positioning: CUP/HVP plus relative movement and column/row
	// addressing.
	cursorPosPattern = regexp.MustCompile(`\x1b\[[0-9;]*[HfABCDEFGd]`)

	// Complex control sequences beyond positioning: screen/line clear,
	// scroll region and scrolling, cursor save/restore. SGR color stays
	// intact in medium mode.
	complexCSIPattern = regexp.MustCompile(`\x1b\[[0-9;]*[JKSTrsu]`)

	// Private mode toggles (cursor visibility, alternate screen).
	privateModePattern = regexp.MustCompile(`\x1b\[\?[0-9;]*[hl]`)

	// Cursor save/restore in their ESC 7 / ESC 8 forms.
	escSaveRestorePattern = regexp.MustCompile(`\x1b[78]`)

	// OSC sequences (window title, hyperlinks), terminated by BEL or ST.
	oscPattern = regexp.MustCompile(`\x1b\][^\x07\x1b]*(\x07|\x1b\\)?`)

	// DCS/SOS/PM/APC sequences, terminated by ST.
	dcsPattern = regexp.MustCompile(`\x1b[PX^_][^\x1b]*(\x1b\\)?`)

	// Any CSI sequence regardless of final byte.
	anyCSIPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

	// Any remaining two-byte escape.
	bareEscPattern = regexp.MustCompile(`\x1b.`)
)

// glyphTable maps box-drawing, spinner and status glyphs emitted by
// interactive CLIs to ASCII stand-ins.
var glyphTable = map[rune]string{
	'─': "-", '━': "-", '│': "|", '┃': "|",
	'┌': "+", '┐': "+", '└': "+", '┘': "+",
	'├': "+", '┤': "+", '┬': "+", '┴': "+", '┼': "+",
	'╭': "+", '╮': "+", '╰': "+", '╯': "+",
	'═': "=", '║': "|", '╔': "+", '╗': "+", '╚': "+", '╝': "+",
	'⠋': "*", '⠙': "*", '⠹': "*", '⠸': "*", '⠼': "*",
	'⠴': "*", '⠦': "*", '⠧': "*", '⠇': "*", '⠏': "*",
	'◐': "*", '◓': "*", '◑': "*", '◒': "*",
	'•': "*", '●': "*", '○': "o", '▪': "*", '■': "#", '□': "[]",
	'✓': "v", '✔': "v", '✗': "x", '✘': "x", '⚠': "!",
	'…': "...", '→': "->", '←': "<-", '↑': "^", '↓': "v",
	'–': "-", '—': "-", '★': "*", '☆': "*",
}

// Filter rewrites terminal output for a constrained renderer. A Filter
// is stateful per tab: it tracks whether any line has been emitted yet
// and the current run of blank lines, both of which span frames.
type Filter struct {
	mode     FilterMode
	emitted  bool
	blankRun int
}

// NewFilter creates a filter for the given mode.
func NewFilter(mode FilterMode) *Filter {
	return &Filter{mode: mode}
}

// Mode returns the filter's mode.
func (f *Filter) Mode() FilterMode {
	return f.mode
}

// Apply rewrites one frame of terminal output according to the mode.
func (f *Filter) Apply(s string) string {
	switch f.mode {
	case FilterNone:
		return s
	case FilterLight:
		return cursorPosPattern.ReplaceAllString(s, "")
	case FilterMedium:
		s = oscPattern.ReplaceAllString(s, "")
		s = dcsPattern.ReplaceAllString(s, "")
		s = cursorPosPattern.ReplaceAllString(s, "")
		s = complexCSIPattern.ReplaceAllString(s, "")
		s = privateModePattern.ReplaceAllString(s, "")
		s = escSaveRestorePattern.ReplaceAllString(s, "")
		return f.postProcess(s)
	case FilterHeavy:
		s = StripEscapes(s)
		return f.postProcess(s)
	}
	return s
}

// StripEscapes removes every ANSI escape sequence from s.
func StripEscapes(s string) string {
	s = oscPattern.ReplaceAllString(s, "")
	s = dcsPattern.ReplaceAllString(s, "")
	s = anyCSIPattern.ReplaceAllString(s, "")
	s = bareEscPattern.ReplaceAllString(s, "")
	return s
}

// postProcess applies carriage-return collapsing, glyph substitution,
// trailing-whitespace trims and the blank-line cap.
func (f *Filter) postProcess(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))

	for i, line := range lines {
		// Terminal overwrite semantics: the text after the last \r is
		// what the user ends up seeing.
		if idx := strings.LastIndexByte(line, '\r'); idx >= 0 {
			collapsed := line[idx+1:]
			if strings.TrimSpace(collapsed) == "" && f.emitted {
				// Overwritten down to nothing: drop the line, but track
				// the trailing fragment boundary.
				if i < len(lines)-1 {
					continue
				}
				line = ""
			} else {
				line = collapsed
			}
		}

		line = substituteGlyphs(line)
		line = strings.TrimRight(line, " \t")

		if line == "" {
			f.blankRun++
			if f.blankRun > 2 && f.emitted {
				continue
			}
		} else {
			f.blankRun = 0
		}

		out = append(out, line)
		if line != "" || !f.emitted {
			f.emitted = true
		}
	}

	return strings.Join(out, "\n")
}

func substituteGlyphs(line string) string {
	var b strings.Builder
	changed := false
	for _, r := range line {
		if repl, ok := glyphTable[r]; ok {
			if !changed {
				changed = true
			}
			b.WriteString(repl)
			continue
		}
		b.WriteRune(r)
	}
	if !changed {
		return line
	}
	return b.String()
}
