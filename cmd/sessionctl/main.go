package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/credentials/kvstore"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/pipeline"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type rootFlags struct {
	logLevel     string
	storePath    string
	oidcIssuer   string
	clientID     string
	clientSecret string
	showMetrics  bool
	quiet        bool
}

func main() {
	cfg := config.New()
	root := &rootFlags{}

	rootFS := flag.NewFlagSet("sessionctl", flag.ExitOnError)
	rootFS.StringVar(&root.logLevel, "log-level", cfg.GetLogLevel(), "log level (debug, info, warn, error)")
	rootFS.StringVar(&root.storePath, "store", cfg.GetStorePath(), "session file")
	rootFS.StringVar(&root.oidcIssuer, "oidc-issuer", "", "use an OIDC provider instead of the JSON auth endpoints")
	rootFS.StringVar(&root.clientID, "client-id", "", "OAuth2 client id (with -oidc-issuer)")
	rootFS.StringVar(&root.clientSecret, "client-secret", "", "OAuth2 client secret (with -oidc-issuer)")
	rootFS.BoolVar(&root.showMetrics, "metrics", false, "print session counters on exit")
	rootFS.BoolVar(&root.quiet, "quiet", false, "do not print the banner")

	loginFS := flag.NewFlagSet("sessionctl login", flag.ExitOnError)
	email := loginFS.String("email", "", "account email")
	password := loginFS.String("password", "", "account password")

	serveFS := flag.NewFlagSet("sessionctl serve", flag.ExitOnError)
	addr := serveFS.String("addr", ":3000", "listen address")
	upstream := serveFS.String("upstream", "http://localhost:3001", "page server to protect")

	tenantsFS := flag.NewFlagSet("sessionctl tenants", flag.ExitOnError)
	reload := tenantsFS.Bool("reload", false, "refetch memberships from the server")

	withSession := func(exec func(context.Context, *session.Context, []string) error) func(context.Context, []string) error {
		return func(ctx context.Context, args []string) error {
			setupLogging(root.logLevel)
			if !root.quiet {
				displayAppname(cfg.GetAppName())
			}
			s, err := newSession(ctx, cfg, root)
			if err != nil {
				return err
			}
			defer s.Close()
			if root.showMetrics {
				defer printMetrics(prometheus.DefaultGatherer)
			}
			return exec(ctx, s, args)
		}
	}

	rootCmd := &ffcli.Command{
		Name:       "sessionctl",
		ShortUsage: "sessionctl [flags] <subcommand>",
		FlagSet:    rootFS,
		Options:    []ff.Option{ff.WithEnvVarPrefix("SESSIONCTL")},
		Subcommands: []*ffcli.Command{
			{
				Name:       "login",
				ShortUsage: "sessionctl login -email <email> -password <password>",
				ShortHelp:  "Sign in and store the session",
				FlagSet:    loginFS,
				Options:    []ff.Option{ff.WithEnvVarPrefix("SESSIONCTL")},
				Exec: withSession(func(ctx context.Context, s *session.Context, _ []string) error {
					return runLogin(ctx, s, *email, *password)
				}),
			},
			{
				Name:      "status",
				ShortHelp: "Show the stored session",
				Exec:      withSession(runStatus),
			},
			{
				Name:       "tenants",
				ShortUsage: "sessionctl tenants [-reload]",
				ShortHelp:  "List the tenants of the signed in user",
				FlagSet:    tenantsFS,
				Exec: withSession(func(ctx context.Context, s *session.Context, _ []string) error {
					return runTenants(ctx, s, *reload)
				}),
			},
			{
				Name:       "switch",
				ShortUsage: "sessionctl switch <tenant-id>",
				ShortHelp:  "Make a tenant active",
				Exec:       withSession(runSwitch),
			},
			{
				Name:       "get",
				ShortUsage: "sessionctl get <path>",
				ShortHelp:  "Send an authenticated GET through the request pipeline",
				Exec:       withSession(runGet),
			},
			{
				Name:       "serve",
				ShortUsage: "sessionctl serve [-addr :3000] [-upstream <url>]",
				ShortHelp:  "Gate an upstream page server on the session cookie",
				FlagSet:    serveFS,
				Options:    []ff.Option{ff.WithEnvVarPrefix("SESSIONCTL")},
				Exec: func(ctx context.Context, _ []string) error {
					setupLogging(root.logLevel)
					if !root.quiet {
						displayAppname(cfg.GetAppName())
					}
					return runServe(ctx, cfg, *addr, *upstream)
				},
			},
			{
				Name:      "logout",
				ShortHelp: "Forget the stored session",
				Exec: withSession(func(_ context.Context, s *session.Context, _ []string) error {
					s.Logout()
					return nil
				}),
			},
		},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ParseAndRun(ctx, os.Args[1:]); err != nil && !errors.Is(err, flag.ErrHelp) {
		log.Error().Err(err).Msg("sessionctl failed")
		stop()
		os.Exit(1)
	}
}

func newSession(ctx context.Context, cfg config.Config, root *rootFlags) (*session.Context, error) {
	kv, err := kvstore.OpenFile(root.storePath)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	var mirrorOpts []credentials.JarMirrorOption
	if key := cfg.GetCookieHashKey(); key != nil {
		mirrorOpts = append(mirrorOpts, credentials.WithCodec(credentials.NewCookieCodec(key, cfg.GetSessionCookieMaxAge())))
	}
	mirror, err := credentials.NewJarMirror(cfg.GetAPIBaseURL(), mirrorOpts...)
	if err != nil {
		return nil, err
	}
	store := credentials.NewStore(kv, mirror, credentials.WithCookieMaxAge(cfg.GetSessionCookieMaxAge()))

	authClient := &http.Client{Timeout: cfg.GetRequestTimeout(), Jar: mirror.Jar()}
	var exchanger interface {
		token.Authenticator
		token.Exchanger
	}
	if root.oidcIssuer != "" {
		exchanger, err = token.NewOIDCExchanger(ctx, root.oidcIssuer, root.clientID, root.clientSecret, token.WithOAuth2HTTPClient(authClient))
		if err != nil {
			return nil, err
		}
	} else {
		exchanger = token.NewHTTPExchanger(cfg.GetAPIBaseURL(), token.WithHTTPClient(authClient))
	}

	s, err := session.New(cfg, store, exchanger, exchanger,
		session.WithMetrics(metrics.New(prometheus.DefaultRegisterer)),
		session.WithCookieJar(mirror.Jar()),
		session.WithNavigator(pipeline.NavigatorFunc(func() {
			fmt.Fprintf(os.Stderr, "Session expired, sign in again (%s)\n", cfg.GetLoginPage())
		})),
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func runLogin(ctx context.Context, s *session.Context, email, password string) error {
	user, err := s.Login(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Printf("Signed in as %s (%s)\n", user.DisplayName(), user.ID)
	if m, ok := s.Tenants().CurrentTenant(); ok {
		fmt.Printf("Active tenant: %s (%s)\n", m.Name, m.ID)
	}
	return nil
}

func runStatus(_ context.Context, s *session.Context, _ []string) error {
	if !s.Restore() {
		fmt.Println("Not signed in")
		return nil
	}
	user, _ := s.User()
	fmt.Printf("User:    %s (%s)\n", user.DisplayName(), user.ID)
	if remaining, ok := s.Tokens().TimeUntilExpiration(); ok {
		fmt.Printf("Expires: in %s\n", remaining.Truncate(time.Second))
	} else {
		fmt.Println("Expires: unknown")
	}
	_, hasRefresh := s.Store().RefreshToken()
	fmt.Printf("Refresh: %t\n", hasRefresh)
	if m, ok := s.Tenants().CurrentTenant(); ok {
		fmt.Printf("Tenant:  %s (%s)\n", m.Name, m.ID)
	}
	return nil
}

func runTenants(ctx context.Context, s *session.Context, reload bool) error {
	if !s.Restore() {
		return errors.New("not signed in")
	}
	list := s.Tenants().Memberships()
	if reload {
		var err error
		if list, err = s.ReloadMemberships(ctx); err != nil {
			return err
		}
	}
	active := s.Tenants().ActiveTenant()
	for _, m := range list {
		marker := " "
		if m.ID == active {
			marker = "*"
		}
		fmt.Printf("%s %-24s %-24s %s\n", marker, m.ID, m.Name, m.Role)
	}
	return nil
}

func runSwitch(_ context.Context, s *session.Context, args []string) error {
	if len(args) != 1 {
		return flag.ErrHelp
	}
	if !s.Restore() {
		return errors.New("not signed in")
	}
	m, err := s.Tenants().SwitchTenant(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Active tenant: %s (%s)\n", m.Name, m.ID)
	return nil
}

func runGet(ctx context.Context, s *session.Context, args []string) error {
	if len(args) != 1 {
		return flag.ErrHelp
	}
	s.Restore()
	req, err := s.Client().NewRequest(ctx, http.MethodGet, args[0], nil)
	if err != nil {
		return err
	}
	resp, err := s.Client().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	fmt.Fprintf(os.Stderr, "%s\n", resp.Status)
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

func printMetrics(gatherer prometheus.Gatherer) {
	families, err := gatherer.Gather()
	if err != nil {
		log.Err(err).Msg("failed to gather metrics")
		return
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "session_client_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := ""
			for _, lp := range m.GetLabel() {
				labels += fmt.Sprintf(" %s=%s", lp.GetName(), lp.GetValue())
			}
			fmt.Fprintf(os.Stderr, "%s%s %g\n", mf.GetName(), labels, m.GetCounter().GetValue())
		}
	}
}
