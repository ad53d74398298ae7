package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/waabox/stockdeck/internal/apiclient"
	"github.com/waabox/stockdeck/internal/auth"
	"github.com/waabox/stockdeck/internal/config"
	"github.com/waabox/stockdeck/internal/resource"
	"github.com/waabox/stockdeck/internal/session"
)

// app holds the flags and the services shared by every command.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	configPath  string
	baseURL     string
	logLevel    string
	metricsFile string
	ephemeral   bool

	// interactive is set when the TUI owns the terminal.
	interactive bool

	cfg       config.Config
	log       *slog.Logger
	sess      *session.Session
	client    *apiclient.Client
	registry  *prometheus.Registry
	auth      *auth.Service
	resources *resource.Service
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "stockdeck",
		Short: "Terminal client for the inventory dashboard",
		Long: `stockdeck signs in to the inventory backend and browses or edits its resources.

Run without a command to open the interactive browser. The session is kept in
~/.config/stockdeck/session.toml and the access token is refreshed on demand.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.interactive = cmd.Name() == "browse" || !cmd.HasParent()
			return a.setup()
		},
		RunE: a.runBrowse,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", config.DefaultConfigPath(), "path to the config file")
	flags.StringVar(&a.baseURL, "base-url", "", "backend API base URL (overrides api.base_url)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.StringVar(&a.metricsFile, "metrics-textfile", "", "write request metrics in Prometheus text format to this file on exit")
	flags.BoolVar(&a.ephemeral, "ephemeral", false, "keep the session in memory only")

	root.AddCommand(a.loginCmd())
	root.AddCommand(a.logoutCmd())
	root.AddCommand(a.whoamiCmd())
	root.AddCommand(a.profileCmd())
	root.AddCommand(a.avatarCmd())
	root.AddCommand(a.sessionCmd())
	root.AddCommand(a.resourcesCmd())
	root.AddCommand(a.listCmd())
	root.AddCommand(a.getCmd())
	root.AddCommand(a.createCmd())
	root.AddCommand(a.updateCmd())
	root.AddCommand(a.deleteCmd())
	root.AddCommand(a.browseCmd())
	root.AddCommand(a.configCmd())
	return root
}

// setup loads the configuration and wires the session, client and services.
func (a *app) setup() error {
	cfg, err := config.LoadFrom(a.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.baseURL != "" {
		cfg.API.BaseURL = a.baseURL
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg

	logOut := a.errOut
	if a.interactive {
		logOut = io.Discard
	}
	a.log = setupLogger(cfg.LogLevelOrDefault(), cfg.Log.Format, logOut)

	var store session.Store = session.NewFileStore(cfg.SessionPathOrDefault())
	if a.ephemeral {
		store = session.NewMemoryStore(session.State{})
	}
	sess, err := session.New(store, a.log)
	if err != nil {
		return err
	}
	sess.OnEnd(a.sessionEnded)
	a.sess = sess

	a.registry = prometheus.NewRegistry()
	metrics, err := apiclient.NewMetrics(a.registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	ep := cfg.API.Endpoints
	client, err := apiclient.New(cfg.BaseURLOrDefault(), sess,
		apiclient.WithHTTPClient(&http.Client{Timeout: cfg.TimeoutOrDefault()}),
		apiclient.WithLogger(a.log),
		apiclient.WithMetrics(metrics),
		apiclient.WithEndpoints(apiclient.Endpoints{
			Login:   ep.Login,
			Refresh: ep.Refresh,
			Logout:  ep.Logout,
			Me:      ep.Me,
			Profile: ep.Profile,
			Avatar:  ep.Avatar,
		}),
		apiclient.WithCSRF(cfg.API.CSRF.Cookie, cfg.API.CSRF.Header),
		apiclient.WithUserAgent(userAgent(cfg)),
	)
	if err != nil {
		return err
	}
	a.client = client
	a.auth = auth.NewService(client, a.log)
	a.resources = resource.NewService(client, nil)
	return nil
}

func (a *app) sessionEnded(reason session.EndReason, _ error) {
	if reason == session.EndExpired && !a.interactive {
		fmt.Fprintln(a.errOut, "session expired: run 'stockdeck login'")
	}
}

func (a *app) writeMetrics() error {
	if a.metricsFile == "" || a.registry == nil {
		return nil
	}
	return prometheus.WriteToTextfile(a.metricsFile, a.registry)
}

func userAgent(cfg config.Config) string {
	if cfg.API.UserAgent != "" {
		return cfg.API.UserAgent
	}
	return "stockdeck/" + version
}
