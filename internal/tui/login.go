package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/waabox/stockdeck/internal/auth"
)

type loginField int

const (
	fieldEmail loginField = iota
	fieldPassword
	fieldRemember
)

// LoginModel is the email/password form.
type LoginModel struct {
	email      string
	password   string
	remember   bool
	focus      loginField
	message    string
	submitting bool
}

// NewLoginModel creates a form prefilled with a remembered email. With an email
// present the password field gets focus and "remember me" starts checked.
func NewLoginModel(rememberedEmail string) LoginModel {
	m := LoginModel{email: rememberedEmail}
	if rememberedEmail != "" {
		m.remember = true
		m.focus = fieldPassword
	}
	return m
}

// Credentials returns the entered values.
func (m LoginModel) Credentials() (email, password string, remember bool) {
	return m.email, m.password, m.remember
}

// WithMessage returns a form showing msg, ready to be submitted again.
func (m LoginModel) WithMessage(msg string) LoginModel {
	m.message = msg
	m.submitting = false
	return m
}

// Update handles a key press. submit is true when the form passed validation and
// should be sent.
func (m LoginModel) Update(msg tea.KeyMsg) (_ LoginModel, submit bool) {
	if m.submitting {
		return m, false
	}
	switch msg.Type {
	case tea.KeyTab, tea.KeyDown:
		m.focus = (m.focus + 1) % 3
	case tea.KeyShiftTab, tea.KeyUp:
		m.focus = (m.focus + 2) % 3
	case tea.KeyEnter:
		if err := auth.ValidateCredentials(m.email, m.password); err != nil {
			m.message = strings.ReplaceAll(err.Error(), "\n", "; ")
			return m, false
		}
		m.message = ""
		m.submitting = true
		return m, true
	case tea.KeyBackspace:
		switch m.focus {
		case fieldEmail:
			m.email = dropLastRune(m.email)
		case fieldPassword:
			m.password = dropLastRune(m.password)
		}
	case tea.KeySpace:
		switch m.focus {
		case fieldRemember:
			m.remember = !m.remember
		case fieldPassword:
			m.password += " "
		}
	case tea.KeyRunes:
		switch m.focus {
		case fieldEmail:
			m.email += string(msg.Runes)
		case fieldPassword:
			m.password += string(msg.Runes)
		case fieldRemember:
			if string(msg.Runes) == "x" {
				m.remember = !m.remember
			}
		}
	}
	return m, false
}

// View renders the form. The password is masked.
func (m LoginModel) View() string {
	cursor := func(f loginField) string {
		if m.focus == f {
			return "> "
		}
		return "  "
	}
	check := "[ ]"
	if m.remember {
		check = "[x]"
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%sEmail:     %s\n", cursor(fieldEmail), m.email))
	sb.WriteString(fmt.Sprintf("%sPassword:  %s\n", cursor(fieldPassword), strings.Repeat("*", len([]rune(m.password)))))
	sb.WriteString(fmt.Sprintf("%s%s Remember me\n", cursor(fieldRemember), check))
	if m.submitting {
		sb.WriteString("\n Signing in...\n")
	} else if m.message != "" {
		sb.WriteString(fmt.Sprintf("\n %s\n", m.message))
	}
	return sb.String()
}

func dropLastRune(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	return string(r[:len(r)-1])
}
