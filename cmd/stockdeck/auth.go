package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/waabox/stockdeck/internal/auth"
)

func (a *app) loginCmd() *cobra.Command {
	var email, password string
	var remember bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Long: `Sign in with email and password.

Missing values are prompted for on stdin. A remembered email is used when
--email is not given, and --remember defaults to on in that case.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := bufio.NewReader(a.in)
			var err error
			if email == "" {
				email = a.sess.RememberedEmail()
			}
			if email == "" {
				if email, err = prompt(in, a.errOut, "Email: "); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = promptPassword(in, a.in, a.errOut); err != nil {
					return err
				}
			}
			if !cmd.Flags().Changed("remember") {
				remember = a.sess.RememberedEmail() != ""
			}

			profile, err := a.auth.Login(cmd.Context(), email, password, remember)
			if err != nil {
				return errors.New(strings.ReplaceAll(auth.LoginMessage(err), "\n", "; "))
			}
			fmt.Fprintf(a.out, "Signed in as %s <%s>\n", profile.DisplayName(), profile.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")
	cmd.Flags().BoolVar(&remember, "remember", false, "remember the email for the next login")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.auth.Logout(cmd.Context())
			fmt.Fprintln(a.out, "Signed out.")
			return nil
		},
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			profile, err := a.auth.Me(cmd.Context())
			if err != nil {
				return err
			}
			return writeProfile(a.out, format, profile)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatTable, "output format: table, json or yaml")
	return cmd
}

func (a *app) profileCmd() *cobra.Command {
	var format, data string
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update the profile",
		Long: `Show the profile of the signed-in user.

With --data the given JSON fields are sent as a partial update first, e.g.
  stockdeck profile --data '{"full_name": "Olga Ops"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			if data == "" {
				profile, err := a.auth.Profile(cmd.Context())
				if err != nil {
					return err
				}
				return writeProfile(a.out, format, profile)
			}
			var fields map[string]any
			if err := json.Unmarshal([]byte(data), &fields); err != nil {
				return fmt.Errorf("parsing --data: %w", err)
			}
			profile, err := a.auth.UpdateProfile(cmd.Context(), fields)
			if err != nil {
				return err
			}
			return writeProfile(a.out, format, profile)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatTable, "output format: table, json or yaml")
	cmd.Flags().StringVar(&data, "data", "", "JSON object of profile fields to update")
	return cmd
}

func (a *app) avatarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "avatar <file>",
		Short: "Upload a profile image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			image, err := a.auth.UploadAvatar(cmd.Context(), filepath.Base(args[0]), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Profile image: %s\n", image)
			return nil
		},
	}
}

func (a *app) sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or refresh the stored session",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the stored tokens without contacting the backend",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			a.writeSessionStatus(time.Now())
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.client.Refresh(cmd.Context()); err != nil {
				return err
			}
			if exp, ok := a.sess.AccessExpiry(); ok {
				fmt.Fprintf(a.out, "Access token refreshed, valid until %s\n", exp.Local().Format(time.RFC3339))
				return nil
			}
			fmt.Fprintln(a.out, "Access token refreshed.")
			return nil
		},
	})
	return cmd
}

func (a *app) writeSessionStatus(now time.Time) {
	access := "missing"
	if a.sess.AccessToken() != "" {
		access = "present"
		if exp, ok := a.sess.AccessExpiry(); ok {
			if a.sess.AccessTokenValid(now) {
				access = "valid until " + exp.Local().Format(time.RFC3339)
			} else {
				access = "expired at " + exp.Local().Format(time.RFC3339)
			}
		}
	}
	refresh := "missing"
	if a.sess.HasRefreshToken() {
		refresh = "present"
	}
	storage := "memory"
	if !a.ephemeral {
		storage = a.cfg.SessionPathOrDefault()
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Signed in:\t%s\n", yesNo(a.sess.Authenticated()))
	if email := a.sess.UserEmail(); email != "" {
		fmt.Fprintf(tw, "Email:\t%s\n", email)
	}
	fmt.Fprintf(tw, "Access token:\t%s\n", access)
	fmt.Fprintf(tw, "Refresh token:\t%s\n", refresh)
	if email := a.sess.RememberedEmail(); email != "" {
		fmt.Fprintf(tw, "Remembered email:\t%s\n", email)
	}
	fmt.Fprintf(tw, "Storage:\t%s\n", storage)
	tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
