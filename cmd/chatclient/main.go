package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"termchat/internal/app"
	"termchat/internal/config"
	"termchat/internal/credentials"
	"termchat/internal/logging"
	"termchat/internal/metrics"
	"termchat/internal/session"
)

var (
	configPath string
	serverURL  string
	streamURL  string
	logLevel   string
)

// env is what every subcommand needs.
type env struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *credentials.FileStore
	client   *session.Client
	registry *prometheus.Registry
}

func setup() (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if streamURL != "" {
		cfg.StreamURL = streamURL
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	store := credentials.NewFileStore(cfg.CredentialsPath)
	client := session.New(session.Options{
		BaseURL:    cfg.ServerURL,
		StreamURL:  cfg.StreamURL,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout()},
	}, store, logger, metrics.New(reg))

	return &env{cfg: cfg, log: logger, store: store, client: client, registry: reg}, nil
}

func (e *env) close() {
	e.client.Close()
	_ = e.log.Sync()
}

// resume restores the stored session or explains how to get one.
func (e *env) resume() error {
	ok, err := e.client.Resume()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("not logged in, run: termchat login <username>")
	}
	if _, ok := e.client.CurrentUser(); !ok {
		return errors.New("stored session has no user, run: termchat login <username>")
	}
	return nil
}

func main() {
	root := &cobra.Command{
		Use:          "termchat",
		Short:        "Terminal chat client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.termchat/config.toml)")
	root.PersistentFlags().StringVar(&serverURL, "server", "", "HTTP API base URL")
	root.PersistentFlags().StringVar(&streamURL, "stream", "", "websocket URL")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level")

	root.AddCommand(loginCmd(), registerCmd(), logoutCmd(), chatsCmd(), searchCmd(), chatCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Log in and store the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return authenticate(cmd, args[0], password, false)
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when empty)")
	return cmd
}

func registerCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "register <username>",
		Short: "Create an account and log in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return authenticate(cmd, args[0], password, true)
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when empty)")
	return cmd
}

func authenticate(cmd *cobra.Command, username, password string, register bool) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	if password == "" {
		if password, err = prompt(cmd.InOrStdin(), cmd.OutOrStdout(), "Password: "); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), e.cfg.RequestTimeout())
	defer cancel()

	var id string
	if register {
		id, err = e.client.Register(ctx, username, password)
	} else {
		id, err = e.client.Login(ctx, username, password)
	}
	if err != nil {
		return errors.New(session.Message(err))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", username, id)
	return nil
}

func prompt(in io.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		return string(secret), err
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			if _, err := e.client.Resume(); err != nil {
				return err
			}
			e.client.Logout()
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func chatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List chats, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()
			if err := e.resume(); err != nil {
				return err
			}

			current, _ := e.client.CurrentUser()
			svc := app.NewService(e.client, current, e.log)
			if err := svc.LoadChats(cmd.Context()); err != nil {
				return errors.New(session.Message(err))
			}
			printChats(cmd.OutOrStdout(), svc.Chats())
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search chats and users",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()
			if err := e.resume(); err != nil {
				return err
			}

			current, _ := e.client.CurrentUser()
			svc := app.NewService(e.client, current, e.log)
			if err := svc.LoadChats(cmd.Context()); err != nil {
				return errors.New(session.Message(err))
			}
			if err := svc.Search(cmd.Context(), args[0]); err != nil {
				return errors.New(session.Message(err))
			}
			printChats(cmd.OutOrStdout(), svc.Chats())
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()
			if err := e.resume(); err != nil {
				return err
			}

			if metricsAddr != "" {
				srv := &http.Server{
					Addr:              metricsAddr,
					Handler:           promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						e.log.Warn("metrics server", zap.Error(err))
					}
				}()
				defer srv.Close()
			}

			ctx := cmd.Context()
			if err := e.client.ConnectMessageStream(ctx); err != nil {
				return errors.New(session.Message(err))
			}

			current, _ := e.client.CurrentUser()
			svc := app.NewService(e.client, current, e.log)
			if err := svc.LoadChats(ctx); err != nil {
				return errors.New(session.Message(err))
			}

			r := &repl{
				svc:     svc,
				conn:    e.client,
				policy:  app.DefaultReconnectPolicy(e.cfg.ReconnectAttempts),
				tick:    e.cfg.Tick(),
				timeout: e.cfg.RequestTimeout(),
				out:     cmd.OutOrStdout(),
				log:     e.log,
			}
			return r.run(ctx, cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve client metrics on this address")
	return cmd
}
