package tui

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/waabox/stockdeck/internal/auth"
	"github.com/waabox/stockdeck/internal/domain"
	"github.com/waabox/stockdeck/internal/resource"
	"github.com/waabox/stockdeck/internal/session"
)

// RecordSource lists the records of a resource. *resource.Service satisfies it.
type RecordSource interface {
	List(ctx context.Context, name string, query url.Values) ([]domain.Record, error)
}

// RecordsLoadedMsg is sent when a resource list has been fetched.
// It is exported so that tests can inject it directly into AppModel.Update.
type RecordsLoadedMsg struct {
	Resource string
	Records  []domain.Record
	Err      error
}

// LoginResultMsg is sent when a login attempt completes.
type LoginResultMsg struct {
	Profile domain.Profile
	Err     error
}

// SessionEndedMsg is sent when the session expires or the user logs out.
type SessionEndedMsg struct {
	Reason session.EndReason
}

type loggedOutMsg struct{}

// viewState indicates the current navigation level.
type viewState int

const (
	viewResources viewState = iota
	viewRecords
	viewDetail
	viewLogin
)

const separator = "────────────────────────────────────────────────────────────\n"

// AppModel is the root Bubbletea model for stockdeck.
type AppModel struct {
	source  RecordSource
	perPage int
	// Navigation
	view viewState
	menu ResourceMenuModel
	// Record level
	selected  resource.Resource
	table     RecordTableModel
	searching bool
	// Detail level
	detail RecordDetailModel
	// Login
	login      LoginModel
	returnView viewState
	profile    domain.Profile
	// General state
	loading bool
	err     error
	width   int
	height  int
	// Callbacks (set by caller via exported fields)
	OnLogin  func(ctx context.Context, email, password string, remember bool) (domain.Profile, error)
	OnLogout func(ctx context.Context)
	// RememberedEmail prefills the login form each time it is shown.
	RememberedEmail func() string
}

// NewAppModel creates the root application model. perPage is the table page size.
func NewAppModel(source RecordSource, resources []resource.Resource, perPage int) AppModel {
	return AppModel{
		source:  source,
		perPage: perPage,
		menu:    NewResourceMenuModel(resources),
		table:   NewRecordTableModel(nil, perPage),
	}
}

// WithProfile returns a model showing p as the signed-in user.
func (m AppModel) WithProfile(p domain.Profile) AppModel {
	m.profile = p
	return m
}

// StartAtLogin returns a model that opens on the login form.
func (m AppModel) StartAtLogin() AppModel {
	return m.showLogin(viewResources, "")
}

// Init does nothing; the first load happens when a resource is opened.
func (m AppModel) Init() tea.Cmd {
	return nil
}

func (m AppModel) loadRecords(res resource.Resource) tea.Cmd {
	return func() tea.Msg {
		records, err := m.source.List(context.Background(), res.Name, nil)
		return RecordsLoadedMsg{Resource: res.Name, Records: records, Err: err}
	}
}

func (m AppModel) submitLogin() tea.Cmd {
	email, password, remember := m.login.Credentials()
	onLogin := m.OnLogin
	return func() tea.Msg {
		if onLogin == nil {
			return LoginResultMsg{Err: errors.New("login is not available")}
		}
		profile, err := onLogin(context.Background(), email, password, remember)
		return LoginResultMsg{Profile: profile, Err: err}
	}
}

func (m AppModel) logout() tea.Cmd {
	onLogout := m.OnLogout
	return func() tea.Msg {
		if onLogout != nil {
			onLogout(context.Background())
		}
		return loggedOutMsg{}
	}
}

func (m AppModel) showLogin(returnTo viewState, notice string) AppModel {
	email := ""
	if m.RememberedEmail != nil {
		email = m.RememberedEmail()
	}
	if m.view != viewLogin {
		m.returnView = returnTo
	}
	m.view = viewLogin
	m.login = NewLoginModel(email).WithMessage(notice)
	m.loading = false
	m.searching = false
	m.err = nil
	return m
}

// Update handles all incoming messages and key events.
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case RecordsLoadedMsg:
		if msg.Resource != m.selected.Name {
			return m, nil
		}
		m.loading = false
		if msg.Err != nil {
			if errors.Is(msg.Err, domain.ErrAuthExpired) {
				return m.showLogin(m.view, "Session expired. Please sign in again."), nil
			}
			m.err = msg.Err
			return m, nil
		}
		m.err = nil
		m.table = m.table.UpdateRecords(msg.Records)

	case LoginResultMsg:
		if m.view != viewLogin {
			return m, nil
		}
		if msg.Err != nil {
			m.login = m.login.WithMessage(auth.LoginMessage(msg.Err))
			return m, nil
		}
		m.profile = msg.Profile
		m.view = m.returnView
		if m.view == viewDetail {
			m.view = viewRecords
		}
		if m.view == viewRecords && m.selected.Path != "" {
			m.loading = true
			return m, m.loadRecords(m.selected)
		}
		return m, nil

	case SessionEndedMsg:
		m.profile = domain.Profile{}
		notice := "Session expired. Please sign in again."
		if msg.Reason == session.EndLoggedOut {
			notice = "Signed out."
		}
		return m.showLogin(m.view, notice), nil

	case loggedOutMsg:
		m.profile = domain.Profile{}
		return m.showLogin(viewResources, "Signed out."), nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.view {
		case viewLogin:
			return m.updateLogin(msg)
		case viewRecords:
			if m.searching {
				return m.updateSearch(msg)
			}
		}
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "ctrl+r":
			if m.view == viewRecords || m.view == viewDetail {
				m.view = viewRecords
				m.loading = true
				return m, m.loadRecords(m.selected)
			}
		}
		switch m.view {
		case viewResources:
			return m.updateResources(msg)
		case viewRecords:
			return m.updateRecords(msg)
		case viewDetail:
			return m.updateDetail(msg)
		}
	}
	return m, nil
}

func (m AppModel) updateResources(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "down":
		m.menu = m.menu.MoveDown()
	case "up":
		m.menu = m.menu.MoveUp()
	case "enter":
		res, ok := m.menu.Selected()
		if !ok {
			return m, nil
		}
		m.selected = res
		m.table = NewRecordTableModel(nil, m.perPage)
		m.view = viewRecords
		m.loading = true
		m.err = nil
		return m, m.loadRecords(res)
	case "o":
		return m, m.logout()
	}
	return m, nil
}

func (m AppModel) updateRecords(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "down":
		m.table = m.table.MoveDown()
	case "up":
		m.table = m.table.MoveUp()
	case "right":
		m.table = m.table.NextPage()
	case "left":
		m.table = m.table.PrevPage()
	case "/":
		m.searching = true
	case "enter":
		if rec, ok := m.table.Selected(); ok {
			m.detail = NewRecordDetailModel(rec)
			m.view = viewDetail
		}
	case "esc":
		if m.table.Query() != "" {
			m.table = m.table.WithQuery("")
			return m, nil
		}
		m.view = viewResources
		m.err = nil
	}
	return m, nil
}

func (m AppModel) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.searching = false
	case tea.KeyEsc:
		m.searching = false
		m.table = m.table.WithQuery("")
	case tea.KeyBackspace:
		m.table = m.table.WithQuery(dropLastRune(m.table.Query()))
	case tea.KeySpace:
		m.table = m.table.WithQuery(m.table.Query() + " ")
	case tea.KeyRunes:
		m.table = m.table.WithQuery(m.table.Query() + string(msg.Runes))
	}
	return m, nil
}

func (m AppModel) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "down":
		m.detail = m.detail.MoveDown()
	case "up":
		m.detail = m.detail.MoveUp()
	case "esc":
		m.view = viewRecords
	}
	return m, nil
}

func (m AppModel) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyEsc {
		return m, tea.Quit
	}
	login, submit := m.login.Update(msg)
	m.login = login
	if submit {
		return m, m.submitLogin()
	}
	return m, nil
}

// View renders the full TUI.
func (m AppModel) View() string {
	if m.view == viewLogin {
		return m.renderLoginView()
	}
	header := " stockdeck"
	if m.profile.Email != "" {
		header += " | " + m.profile.DisplayName()
	}
	if m.selected.Title != "" && m.view != viewResources {
		header += " / " + m.selected.Title
	}
	header += "\n"

	if m.loading {
		return header + separator + " Loading records...\n"
	}
	if m.err != nil {
		return header + separator + fmt.Sprintf(" Error: %v\n\n Press 'ctrl+r' to retry, 'esc' to go back or 'q' to quit.\n", m.err)
	}

	switch m.view {
	case viewRecords:
		return m.renderRecordsView(header)
	case viewDetail:
		return m.renderDetailView(header)
	default:
		return m.renderResourcesView(header)
	}
}

func (m AppModel) renderResourcesView(header string) string {
	footer := " ↑/↓: navigate   enter: open   o: sign out   q: quit\n"
	return header + separator + m.menu.View() + "\n" + separator + footer
}

func (m AppModel) renderRecordsView(header string) string {
	page, total := m.table.Page()
	status := fmt.Sprintf(" page %d/%d   %d records", page, total, m.table.Matches())
	if q := m.table.Query(); q != "" || m.searching {
		status += fmt.Sprintf("   search: %s", q)
		if m.searching {
			status += "_"
		}
	}
	footer := " ↑/↓: navigate   ←/→: page   /: search   enter: details   ctrl+r: reload   esc: back   q: quit\n"
	if m.searching {
		footer = " type to filter   enter: done   esc: clear\n"
	}
	return header + separator + m.table.View() + "\n" + separator + status + "\n" + separator + footer
}

func (m AppModel) renderDetailView(header string) string {
	rec := m.detail.Record()
	title := fmt.Sprintf(" Record #%s\n", rec.ID())
	footer := " ↑/↓: navigate   ctrl+r: reload   esc: back   q: quit\n"
	return header + separator + title + m.detail.View() + "\n" + separator + footer
}

func (m AppModel) renderLoginView() string {
	header := " stockdeck | Sign in\n"
	footer := " tab: next field   space: toggle remember   enter: sign in   esc: quit\n"
	return header + separator + "\n" + m.login.View() + "\n" + separator + footer
}

// Run starts the Bubbletea program and forwards session ends to it.
func Run(m AppModel, sess *session.Session) error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	sess.OnEnd(func(reason session.EndReason, _ error) {
		p.Send(SessionEndedMsg{Reason: reason})
	})
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running tui: %w", err)
	}
	return nil
}
