package main

import (
	"github.com/spf13/cobra"

	"github.com/waabox/stockdeck/internal/tui"
)

func (a *app) browseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Open the interactive browser",
		Args:  cobra.NoArgs,
		RunE:  a.runBrowse,
	}
}

// runBrowse starts the TUI. Without a usable session it opens on the login form.
func (a *app) runBrowse(cmd *cobra.Command, _ []string) error {
	m := tui.NewAppModel(a.resources, a.resources.Registry().All(), a.cfg.PageSizeOrDefault())
	m.OnLogin = a.auth.Login
	m.OnLogout = a.auth.Logout
	m.RememberedEmail = a.sess.RememberedEmail

	if a.sess.Authenticated() {
		if profile, err := a.auth.Profile(cmd.Context()); err == nil {
			m = m.WithProfile(profile)
		}
	}
	if !a.sess.Authenticated() {
		m = m.StartAtLogin()
	}
	return tui.Run(m, a.sess)
}
