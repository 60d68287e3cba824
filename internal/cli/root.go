package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fletchr/csvhost/internal/alert"
	"github.com/fletchr/csvhost/internal/anomaly"
	"github.com/fletchr/csvhost/internal/audit"
	"github.com/fletchr/csvhost/internal/auth"
	"github.com/fletchr/csvhost/internal/config"
	"github.com/fletchr/csvhost/internal/db"
	"github.com/fletchr/csvhost/internal/gateway"
	"github.com/fletchr/csvhost/internal/ratelimit"
	"github.com/fletchr/csvhost/internal/sandbox"
	"github.com/fletchr/csvhost/internal/server"
	"github.com/fletchr/csvhost/internal/util"
)

type VersionInfo struct {
	Version string
	Commit  string
	Date    string
}

type rootState struct {
	configPath string
	dataDir    string
}

type serveFlags struct {
	host     string
	port     int
	bind     string
	logLevel string
	https    bool
	cert     string
	key      string
}

func NewRootCmd(v VersionInfo) *cobra.Command {
	state := &rootState{}
	serve := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "csvhost",
		Short: "Host CSV-backed databases with per-user sandboxes and a remote API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, state, serve, v)
		},
	}
	cmd.PersistentFlags().StringVar(&state.configPath, "config", "", "config path (default: platform user config)")
	cmd.PersistentFlags().StringVar(&state.dataDir, "data-dir", "", "data directory for SQLite and user sandboxes")
	addServeFlags(cmd, serve)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, state, serve, v)
		},
	}
	addServeFlags(serveCmd, serve)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive first-run setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(state)
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print config location and effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, cfg, err := loadConfig(state)
			if err != nil {
				return err
			}
			fmt.Printf("Config path: %s\n", cfgPath)
			fmt.Printf("Data dir: %s\n", cfg.DataDir)
			if err := config.Validate(cfg); err != nil {
				fmt.Printf("Validation: failed (%v)\n", err)
			} else {
				fmt.Println("Validation: ok")
			}
			cfg.SMTPPassword = "" // never print credentials
			b, _ := json.MarshalIndent(cfg, "", "  ")
			fmt.Println(string(b))
			return nil
		},
	}

	userCmd := buildUserCommands(state)
	auditCmd := buildAuditCommand(state)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("csvhost %s\ncommit: %s\nbuilt: %s\n", v.Version, v.Commit, v.Date)
		},
	}

	cmd.AddCommand(serveCmd, initCmd, configCmd, userCmd, auditCmd, versionCmd)
	return cmd
}

func addServeFlags(cmd *cobra.Command, f *serveFlags) {
	cmd.Flags().StringVar(&f.host, "host", "", "advertised host override")
	cmd.Flags().IntVar(&f.port, "port", 0, "server port")
	cmd.Flags().StringVar(&f.bind, "bind", "", "bind address (default from config, typically 0.0.0.0)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level: debug|info|warn|error")
	cmd.Flags().BoolVar(&f.https, "https", false, "enable HTTPS")
	cmd.Flags().StringVar(&f.cert, "cert", "", "TLS certificate path")
	cmd.Flags().StringVar(&f.key, "key", "", "TLS key path")
}

func loadConfig(state *rootState) (string, config.Config, error) {
	cfgPath := strings.TrimSpace(state.configPath)
	if cfgPath == "" {
		p, err := config.ConfigPathFromEnv()
		if err != nil {
			return "", config.Config{}, err
		}
		cfgPath = p
	}
	cfg, err := config.LoadOrDefault(cfgPath, state.dataDir)
	if err != nil {
		return "", config.Config{}, err
	}
	return cfgPath, cfg, nil
}

func mergeServeFlags(cmd *cobra.Command, cfg config.Config, f *serveFlags) config.Config {
	if cmd.Flags().Changed("host") {
		cfg.Host = f.host
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = f.port
	}
	if cmd.Flags().Changed("bind") {
		cfg.Bind = f.bind
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(f.logLevel))
	}
	if cmd.Flags().Changed("https") {
		cfg.HTTPS = f.https
	}
	if cmd.Flags().Changed("cert") {
		cfg.CertFile = f.cert
	}
	if cmd.Flags().Changed("key") {
		cfg.KeyFile = f.key
	}
	return cfg
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// buildApp wires the store, audit trail, anomaly detector, gateway, and HTTP
// layer together. The caller owns the returned store.
func buildApp(cfg config.Config, logger *slog.Logger) (*server.App, *db.Store, error) {
	store, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}

	recorder := audit.NewRecorder(store, logger)
	var notifier alert.Notifier = &alert.LogNotifier{Logger: logger}
	if cfg.SMTPAddr != "" {
		notifier = &alert.SMTPNotifier{
			Addr:     cfg.SMTPAddr,
			From:     cfg.SMTPFrom,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
		}
	}
	detector := anomaly.NewDetector(store, logger, notifier, cfg.SecurityEmail,
		cfg.FailedLoginThreshold, cfg.APIAnomalyThreshold)
	recorder.SetDetector(detector)

	root, err := sandbox.NewRoot(cfg.DataDir)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	gw := gateway.New(store, recorder, ratelimit.New(), root, logger,
		ratelimit.Policy{Limit: cfg.APIRateLimit, Window: time.Duration(cfg.APIRateWindowSecs) * time.Second},
		ratelimit.Policy{Limit: cfg.LoginRateLimit, Window: time.Duration(cfg.LoginRateWindowSecs) * time.Second})

	app, err := server.New(server.Options{
		Config:   cfg,
		Store:    store,
		Gateway:  gw,
		Recorder: recorder,
		Logger:   logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return app, store, nil
}

func runServe(cmd *cobra.Command, state *rootState, flags *serveFlags, v VersionInfo) error {
	cfgPath, cfg, err := loadConfig(state)
	if err != nil {
		return err
	}
	cfg = mergeServeFlags(cmd, cfg, flags)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
			Release:     "csvhost@" + v.Version,
		})
		if err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	app, store, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	urls := util.DiscoverURLs(cfg.Bind, cfg.Port, cfg.HTTPS)
	fmt.Printf("Config: %s\n", cfgPath)
	fmt.Printf("Data:   %s\n", cfg.DataDir)
	fmt.Println("URLs:")
	for _, u := range urls {
		fmt.Printf("  - %s\n", u)
	}
	if len(urls) > 0 {
		fmt.Println("QR (scan from phone on same LAN):")
		util.PrintTerminalQR(urls[0])
	}
	fmt.Println("Press Ctrl+C to stop.")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return app.Run(ctx)
}

func runInit(state *rootState) error {
	cfgPath := strings.TrimSpace(state.configPath)
	if cfgPath == "" {
		p, err := config.ConfigPathFromEnv()
		if err != nil {
			return err
		}
		cfgPath = p
	}
	cfg, err := config.LoadOrDefault(cfgPath, state.dataDir)
	if err != nil {
		return err
	}

	r := bufio.NewReader(os.Stdin)
	fmt.Println("csvhost first-run setup")
	cfg.DataDir = askWithDefault(r, "Data directory", cfg.DataDir)
	cfg.Bind = askWithDefault(r, "Bind address", cfg.Bind)
	cfg.Port = askIntWithDefault(r, "Port", cfg.Port)
	cfg.SecurityEmail = askWithDefault(r, "Security alert address", cfg.SecurityEmail)
	cfg.SMTPAddr = askWithDefault(r, "SMTP relay (host:port, empty for log-only alerts)", cfg.SMTPAddr)

	if err := config.Validate(cfg); err != nil {
		return err
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}

	store, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	users, err := store.ListUsers()
	if err != nil {
		return err
	}
	if len(users) == 0 {
		username := askWithDefault(r, "First user name", "admin")
		email := ""
		for {
			email = strings.TrimSpace(askWithDefault(r, "First user email", ""))
			if auth.ValidEmail(email) {
				break
			}
			fmt.Println("Please enter a valid email address.")
		}
		password, err := promptPasswordTwice("Password")
		if err != nil {
			return err
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}
		uid, err := store.CreateUser(username, email, hash)
		if err != nil {
			return err
		}
		root, err := sandbox.NewRoot(cfg.DataDir)
		if err != nil {
			return err
		}
		if _, err := root.EnsureUserDir(uid); err != nil {
			return err
		}
		fmt.Printf("Created user %q (%s)\n", username, email)
	}

	fmt.Printf("Config saved to %s\n", cfgPath)
	fmt.Println("Run `csvhost` to start the server.")
	return nil
}

func askWithDefault(r *bufio.Reader, label, def string) string {
	fmt.Printf("%s [%s]: ", label, def)
	text, _ := r.ReadString('\n')
	text = strings.TrimSpace(text)
	if text == "" {
		return def
	}
	return text
}

func askIntWithDefault(r *bufio.Reader, label string, def int) int {
	for {
		value := askWithDefault(r, label, strconv.Itoa(def))
		n, err := strconv.Atoi(value)
		if err == nil && n > 0 {
			return n
		}
		fmt.Println("Please enter a positive integer.")
	}
}

func promptPassword(prompt string) (string, error) {
	fmt.Printf("%s: ", prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		return string(b), err
	}
	reader := bufio.NewReader(os.Stdin)
	text, err := reader.ReadString('\n')
	return strings.TrimSpace(text), err
}

func promptPasswordTwice(label string) (string, error) {
	first, err := promptPassword(label)
	if err != nil {
		return "", err
	}
	second, err := promptPassword(label + " (confirm)")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passwords do not match")
	}
	if len(first) < auth.MinPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", auth.MinPasswordLength)
	}
	return first, nil
}

func openStore(state *rootState) (*db.Store, config.Config, error) {
	_, cfg, err := loadConfig(state)
	if err != nil {
		return nil, config.Config{}, err
	}
	store, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, config.Config{}, err
	}
	return store, cfg, nil
}

func buildUserCommands(state *rootState) *cobra.Command {
	userCmd := &cobra.Command{Use: "user", Short: "User management"}
	username := ""
	showQR := false

	addCmd := &cobra.Command{
		Use:   "add <email>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := strings.TrimSpace(args[0])
			if !auth.ValidEmail(email) {
				return fmt.Errorf("invalid email %q", email)
			}
			store, cfg, err := openStore(state)
			if err != nil {
				return err
			}
			defer store.Close()

			name := username
			if name == "" {
				name = email[:strings.IndexByte(email, '@')]
			}
			pass, err := promptPasswordTwice("Password")
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(pass)
			if err != nil {
				return err
			}
			uid, err := store.CreateUser(name, email, hash)
			if err != nil {
				return err
			}
			root, err := sandbox.NewRoot(cfg.DataDir)
			if err != nil {
				return err
			}
			if _, err := root.EnsureUserDir(uid); err != nil {
				return err
			}
			fmt.Printf("created user %s (id=%d email=%s)\n", name, uid, email)
			return nil
		},
	}
	addCmd.Flags().StringVar(&username, "username", "", "display name (default: email local part)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(state)
			if err != nil {
				return err
			}
			defer store.Close()
			users, err := store.ListUsers()
			if err != nil {
				return err
			}
			for _, u := range users {
				status := "active"
				if u.AccountLockedUntil != nil && time.Now().Before(*u.AccountLockedUntil) {
					status = "locked"
				}
				fmt.Printf("%d\t%s\t%s\t%s\n", u.ID, u.Username, u.Email, status)
			}
			return nil
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <email>",
		Short: "Remove a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(state)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.DeleteUser(args[0])
		},
	}

	unlockCmd := &cobra.Command{
		Use:   "unlock <email>",
		Short: "Clear a user's failed-login lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(state)
			if err != nil {
				return err
			}
			defer store.Close()
			u, err := store.GetUserByEmail(args[0])
			if err != nil {
				return err
			}
			return store.ResetLoginState(u.ID, u.LastLoginIP)
		},
	}

	tokenCmd := &cobra.Command{
		Use:   "token <email>",
		Short: "Print a user's remote API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(state)
			if err != nil {
				return err
			}
			defer store.Close()
			u, err := store.GetUserByEmail(args[0])
			if err != nil {
				return err
			}
			// The token is the account email; printing it through the
			// store confirms the account exists.
			fmt.Printf("X-API-Token: %s\n", u.Email)
			if showQR {
				util.PrintTerminalQR(u.Email)
			}
			return nil
		},
	}
	tokenCmd.Flags().BoolVar(&showQR, "qr", false, "print the token as a QR code")

	userCmd.AddCommand(addCmd, listCmd, removeCmd, unlockCmd, tokenCmd)
	return userCmd
}

func buildAuditCommand(state *rootState) *cobra.Command {
	limit := 50
	breaches := false

	auditCmd := &cobra.Command{
		Use:   "audit <email>",
		Short: "Print a user's security log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(state)
			if err != nil {
				return err
			}
			defer store.Close()
			u, err := store.GetUserByEmail(args[0])
			if err != nil {
				return err
			}

			if breaches {
				rows, err := store.ListBreaches(u.ID, limit)
				if err != nil {
					return err
				}
				for _, b := range rows {
					fmt.Printf("%s\t%s\t%s\t%s\n",
						b.CreatedAt.UTC().Format(time.RFC3339), b.Type, b.Status, b.IPAddress)
				}
				return nil
			}

			logs, err := store.ListSecurityLogs(u.ID, limit)
			if err != nil {
				return err
			}
			for _, l := range logs {
				fmt.Printf("%s\t%s\t%s\t%s\t%s\n",
					l.CreatedAt.UTC().Format(time.RFC3339), l.EventType, l.Action, l.Severity, l.IPAddress)
			}
			return nil
		},
	}
	auditCmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to print")
	auditCmd.Flags().BoolVar(&breaches, "breaches", false, "print breach records instead of the audit trail")
	return auditCmd
}
