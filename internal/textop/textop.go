// Package textop derives text operations from editor snapshots and applies them to
// document content. Positions and lengths are counted in runes.
package textop

import (
	"errors"
	"fmt"

	"notepad-sync/internal/domain"
)

var ErrUnknownOperationType = errors.New("unknown operation type")

// Derive turns two consecutive snapshots into a single operation. The change is assumed
// to be one contiguous insert ending at cursorPosition, or one contiguous delete starting
// at cursorPosition. Equal-length edits yield nil; use DeriveAll when replacements matter.
func Derive(oldContent, newContent string, cursorPosition int) *domain.Operation {
	if oldContent == newContent {
		return nil
	}

	oldRunes := []rune(oldContent)
	newRunes := []rune(newContent)
	delta := len(newRunes) - len(oldRunes)

	switch {
	case delta > 0:
		end := clamp(cursorPosition, delta, len(newRunes))
		start := end - delta
		return &domain.Operation{
			Type:     domain.OperationInsert,
			Position: start,
			Content:  string(newRunes[start:end]),
			Length:   delta,
		}
	case delta < 0:
		return &domain.Operation{
			Type:     domain.OperationDelete,
			Position: clamp(cursorPosition, 0, len(newRunes)),
			Length:   -delta,
		}
	}

	return nil
}

// DeriveAll is Derive with a fallback: when the cursor-anchored guess does not reproduce
// newContent, the edit is recomputed from the common prefix and suffix and emitted as a
// DELETE followed by an INSERT at the same position.
func DeriveAll(oldContent, newContent string, cursorPosition int) []domain.Operation {
	if oldContent == newContent {
		return nil
	}

	if op := Derive(oldContent, newContent, cursorPosition); op != nil {
		if got, _, err := Apply(oldContent, *op); err == nil && got == newContent {
			return []domain.Operation{*op}
		}
	}

	oldRunes := []rune(oldContent)
	newRunes := []rune(newContent)

	prefix := 0
	for prefix < len(oldRunes) && prefix < len(newRunes) && oldRunes[prefix] == newRunes[prefix] {
		prefix++
	}

	suffix := 0
	for suffix < len(oldRunes)-prefix && suffix < len(newRunes)-prefix &&
		oldRunes[len(oldRunes)-1-suffix] == newRunes[len(newRunes)-1-suffix] {
		suffix++
	}

	removed := len(oldRunes) - prefix - suffix
	inserted := newRunes[prefix : len(newRunes)-suffix]

	var ops []domain.Operation
	if removed > 0 {
		ops = append(ops, domain.Operation{
			Type:     domain.OperationDelete,
			Position: prefix,
			Length:   removed,
		})
	}
	if len(inserted) > 0 {
		ops = append(ops, domain.Operation{
			Type:     domain.OperationInsert,
			Position: prefix,
			Content:  string(inserted),
			Length:   len(inserted),
		})
	}

	return ops
}

// Apply applies op to content and returns the new content together with the operation as
// it was actually applied. Out-of-range positions and lengths are clamped, never rejected.
// An operation with an unknown type leaves content untouched and returns
// ErrUnknownOperationType.
func Apply(content string, op domain.Operation) (string, domain.Operation, error) {
	runes := []rune(content)
	op.Position = clamp(op.Position, 0, len(runes))

	switch op.Type {
	case domain.OperationInsert:
		inserted := []rune(op.Content)
		op.Length = len(inserted)
		if len(inserted) == 0 {
			return content, op, nil
		}

		out := make([]rune, 0, len(runes)+len(inserted))
		out = append(out, runes[:op.Position]...)
		out = append(out, inserted...)
		out = append(out, runes[op.Position:]...)
		return string(out), op, nil

	case domain.OperationDelete:
		op.Content = ""
		op.Length = clamp(op.Length, 0, len(runes)-op.Position)
		if op.Length == 0 {
			return content, op, nil
		}

		out := make([]rune, 0, len(runes)-op.Length)
		out = append(out, runes[:op.Position]...)
		out = append(out, runes[op.Position+op.Length:]...)
		return string(out), op, nil

	case domain.OperationRetain:
		op.Content = ""
		op.Length = 0
		return content, op, nil
	}

	return content, op, fmt.Errorf("%w: %q", ErrUnknownOperationType, op.Type)
}

// Len returns the document length in the unit operations are expressed in.
func Len(content string) int {
	return len([]rune(content))
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
