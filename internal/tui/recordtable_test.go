package tui_test

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/waabox/stockdeck/internal/domain"
	"github.com/waabox/stockdeck/internal/resource"
	"github.com/waabox/stockdeck/internal/tui"
)

func TestRecordTableModel_RendersHeaderAndRows(t *testing.T) {
	records := []domain.Record{
		{"id": float64(1), "name": "Bolt", "sku": "B-1"},
		{"id": float64(2), "name": "Nut", "sku": "N-1"},
	}
	m := tui.NewRecordTableModel(records, 10)
	view := m.View()

	if !strings.Contains(view, "ID") || !strings.Contains(view, "SKU") {
		t.Errorf("expected column headers, got:\n%s", view)
	}
	if !strings.Contains(view, "> 1") {
		t.Errorf("expected cursor on the first row, got:\n%s", view)
	}
}

func TestRecordTableModel_CursorStaysOnPage(t *testing.T) {
	records := []domain.Record{{"id": "a"}, {"id": "b"}, {"id": "c"}}
	m := tui.NewRecordTableModel(records, 2)

	m = m.MoveDown().MoveDown().MoveDown()
	rec, ok := m.Selected()
	if !ok || rec.ID() != "b" {
		t.Errorf("expected b, got %v", rec)
	}

	m = m.NextPage()
	rec, _ = m.Selected()
	if rec.ID() != "c" {
		t.Errorf("expected c on page 2, got %v", rec)
	}
}

func TestRecordTableModel_EmptyQueryResult(t *testing.T) {
	m := tui.NewRecordTableModel([]domain.Record{{"id": "a", "name": "Bolt"}}, 10).WithQuery("zzz")
	if !strings.Contains(m.View(), `No records match "zzz"`) {
		t.Errorf("unexpected view:\n%s", m.View())
	}
	if _, ok := m.Selected(); ok {
		t.Error("expected no selection")
	}
}

func TestResourceMenuModel_GroupsAndNavigates(t *testing.T) {
	m := tui.NewResourceMenuModel(resource.DefaultRegistry().All())
	view := m.View()
	if !strings.Contains(view, "INVENTORY") || !strings.Contains(view, "PROCUREMENT") {
		t.Errorf("expected group headings, got:\n%s", view)
	}
	m = m.MoveUp().MoveDown()
	res, ok := m.Selected()
	if !ok || res.Name != "stocks" {
		t.Errorf("expected stocks, got %+v", res)
	}
}

func TestRecordDetailModel_ListsFields(t *testing.T) {
	m := tui.NewRecordDetailModel(domain.Record{"id": float64(4), "name": "Bin A", "capacity": float64(40)})
	view := m.View()
	if !strings.HasPrefix(view, "> id") {
		t.Errorf("expected id first with cursor, got:\n%s", view)
	}
	m = m.MoveDown().MoveDown().MoveDown()
	if m.Cursor() != 2 {
		t.Errorf("expected cursor 2, got %d", m.Cursor())
	}
}

func TestLoginModel_PrefillsRememberedEmail(t *testing.T) {
	m := tui.NewLoginModel("ops@example.com")
	email, _, remember := m.Credentials()
	if email != "ops@example.com" || !remember {
		t.Errorf("expected prefilled email and remember, got %q %v", email, remember)
	}

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("pw")})
	_, password, _ := m.Credentials()
	if password != "pw" {
		t.Errorf("expected focus on password, got %q", password)
	}
	if strings.Contains(m.View(), "pw") {
		t.Error("expected the password to be masked")
	}
}

func TestLoginModel_ToggleRememberAndSubmit(t *testing.T) {
	m := tui.NewLoginModel("")
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("ops@example.com")})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s3cret")})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeySpace})

	m, submit := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if !submit {
		t.Fatalf("expected submit, view:\n%s", m.View())
	}
	email, password, remember := m.Credentials()
	if email != "ops@example.com" || password != "s3cret" || !remember {
		t.Errorf("unexpected credentials %q %q %v", email, password, remember)
	}
	if _, again := m.Update(tea.KeyMsg{Type: tea.KeyEnter}); again {
		t.Error("expected no second submit while signing in")
	}
}
