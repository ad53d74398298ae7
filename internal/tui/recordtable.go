package tui

import (
	"fmt"
	"strings"

	"github.com/waabox/stockdeck/internal/domain"
)

const (
	maxColumns  = 5
	columnWidth = 18
)

// RecordTableModel is an immutable model for a searchable, paginated record table.
type RecordTableModel struct {
	records []domain.Record
	query   string
	page    int
	perPage int
	cursor  int
}

// NewRecordTableModel creates a table showing perPage rows at a time.
func NewRecordTableModel(records []domain.Record, perPage int) RecordTableModel {
	if perPage <= 0 {
		perPage = 10
	}
	return RecordTableModel{records: records, page: 1, perPage: perPage}
}

// Records returns every record, unfiltered.
func (m RecordTableModel) Records() []domain.Record {
	return m.records
}

// UpdateRecords swaps in a reloaded set, keeping the cursor on the same record id when possible.
func (m RecordTableModel) UpdateRecords(records []domain.Record) RecordTableModel {
	selected, ok := m.Selected()
	m.records = records
	m.page, m.cursor = 1, 0
	if !ok || selected.ID() == "" {
		return m
	}
	filtered := m.filtered()
	for i, r := range filtered {
		if r.ID() == selected.ID() {
			m.page = i/m.perPage + 1
			m.cursor = i % m.perPage
			break
		}
	}
	return m
}

// WithQuery returns a model filtered by query, back on the first page.
func (m RecordTableModel) WithQuery(query string) RecordTableModel {
	m.query = query
	m.page, m.cursor = 1, 0
	return m
}

// Query returns the active search text.
func (m RecordTableModel) Query() string {
	return m.query
}

// Page returns the current page and the page count.
func (m RecordTableModel) Page() (int, int) {
	_, total := domain.Page(m.filtered(), m.page, m.perPage)
	return m.page, total
}

// NextPage returns a model on the following page, if any.
func (m RecordTableModel) NextPage() RecordTableModel {
	if _, total := m.Page(); m.page < total {
		m.page++
		m.cursor = 0
	}
	return m
}

// PrevPage returns a model on the previous page, if any.
func (m RecordTableModel) PrevPage() RecordTableModel {
	if m.page > 1 {
		m.page--
		m.cursor = 0
	}
	return m
}

// MoveDown returns a new model with the cursor moved down within the page.
func (m RecordTableModel) MoveDown() RecordTableModel {
	if m.cursor < len(m.visible())-1 {
		m.cursor++
	}
	return m
}

// MoveUp returns a new model with the cursor moved up within the page.
func (m RecordTableModel) MoveUp() RecordTableModel {
	if m.cursor > 0 {
		m.cursor--
	}
	return m
}

// Selected returns the highlighted record.
func (m RecordTableModel) Selected() (domain.Record, bool) {
	rows := m.visible()
	if m.cursor >= len(rows) {
		return nil, false
	}
	return rows[m.cursor], true
}

// Matches returns the number of records matching the query.
func (m RecordTableModel) Matches() int {
	return len(m.filtered())
}

func (m RecordTableModel) filtered() []domain.Record {
	return domain.Filter(m.records, m.query)
}

func (m RecordTableModel) visible() []domain.Record {
	rows, _ := domain.Page(m.filtered(), m.page, m.perPage)
	return rows
}

// View renders the current page as a fixed-width table.
func (m RecordTableModel) View() string {
	filtered := m.filtered()
	if len(filtered) == 0 {
		if m.query != "" {
			return fmt.Sprintf("No records match %q.", m.query)
		}
		return "No records found."
	}
	cols := domain.Columns(filtered)
	if len(cols) > maxColumns {
		cols = cols[:maxColumns]
	}
	var sb strings.Builder
	sb.WriteString("  ")
	for _, c := range cols {
		sb.WriteString(fmt.Sprintf("%-*s ", columnWidth, truncate(strings.ToUpper(c), columnWidth)))
	}
	sb.WriteString("\n")
	for i, r := range m.visible() {
		prefix := "  "
		if i == m.cursor {
			prefix = "> "
		}
		sb.WriteString(prefix)
		for _, c := range cols {
			sb.WriteString(fmt.Sprintf("%-*s ", columnWidth, truncate(singleLine(r.Value(c)), columnWidth)))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
