package tui

import (
	"fmt"
	"strings"

	"github.com/waabox/stockdeck/internal/domain"
)

// RecordDetailModel is an immutable model listing every field of one record.
type RecordDetailModel struct {
	record domain.Record
	fields []string
	cursor int
}

// NewRecordDetailModel creates a detail model for record.
func NewRecordDetailModel(record domain.Record) RecordDetailModel {
	return RecordDetailModel{record: record, fields: domain.Columns([]domain.Record{record})}
}

// MoveDown returns a new model with the cursor moved down by one.
func (m RecordDetailModel) MoveDown() RecordDetailModel {
	if m.cursor < len(m.fields)-1 {
		m.cursor++
	}
	return m
}

// MoveUp returns a new model with the cursor moved up by one.
func (m RecordDetailModel) MoveUp() RecordDetailModel {
	if m.cursor > 0 {
		m.cursor--
	}
	return m
}

// Cursor returns the current cursor position.
func (m RecordDetailModel) Cursor() int {
	return m.cursor
}

// Record returns the record being shown.
func (m RecordDetailModel) Record() domain.Record {
	return m.record
}

// View renders one "field  value" line per field.
func (m RecordDetailModel) View() string {
	if len(m.fields) == 0 {
		return "Empty record."
	}
	var sb strings.Builder
	for i, f := range m.fields {
		prefix := "  "
		if i == m.cursor {
			prefix = "> "
		}
		sb.WriteString(fmt.Sprintf("%s%-22s %s\n", prefix, truncate(f, 22), m.record.Value(f)))
	}
	return sb.String()
}
