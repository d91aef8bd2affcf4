package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
)

// caretOffset is the textarea caret as a rune offset into its value.
func caretOffset(ta *textarea.Model) int {
	info := ta.LineInfo()
	return offsetOf(ta.Value(), ta.Line(), info.StartColumn+info.ColumnOffset)
}

// offsetOf converts a row and column into a rune offset into value.
func offsetOf(value string, row, col int) int {
	lines := strings.Split(value, "\n")
	if row >= len(lines) {
		row = len(lines) - 1
	}

	offset := 0
	for i := 0; i < row; i++ {
		offset += len([]rune(lines[i])) + 1
	}

	lineLen := len([]rune(lines[row]))
	if col > lineLen {
		col = lineLen
	}
	if col < 0 {
		col = 0
	}
	return offset + col
}

// rowCol is the inverse of offsetOf; offsets past the end land on the last character.
func rowCol(value string, offset int) (int, int) {
	lines := strings.Split(value, "\n")
	if offset < 0 {
		offset = 0
	}

	for row, line := range lines {
		n := len([]rune(line))
		if offset <= n || row == len(lines)-1 {
			if offset > n {
				offset = n
			}
			return row, offset
		}
		offset -= n + 1
	}
	return 0, 0
}

// placeCaret moves the textarea caret to a rune offset. textarea has no SetRow, so the
// row is reached with CursorUp/CursorDown.
func placeCaret(ta *textarea.Model, offset int) {
	row, col := rowCol(ta.Value(), offset)

	current := ta.Line()
	for current > row {
		ta.CursorUp()
		current = ta.Line()
	}
	for current < row {
		ta.CursorDown()
		current = ta.Line()
	}
	ta.SetCursor(col)
}
