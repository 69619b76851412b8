package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"socialchat/internal/config"
	"socialchat/internal/models"
	"socialchat/internal/realtime/api"
	"socialchat/internal/realtime/connection"
	"socialchat/internal/realtime/transport"
	"socialchat/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "dev"

	serverURL  string
	token      string
	userID     string
	userName   string
	transports []string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Terminal client for the socialchat relay",
	Long: `chatctl connects to a socialchat relay with a user token and exercises
the realtime client: following conversations, sending messages, showing
read receipts and waiting for incoming calls.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := logger.WarnLevel
		if verbose {
			level = logger.DebugLevel
		}
		logger.InitWith(logger.Config{Level: level, Format: logger.TextFormat, Output: "stderr"})

		if token == "" {
			return errors.New("a token is required (--token or CHAT_TOKEN)")
		}
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	_ = godotenv.Load()

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&serverURL, "server", "s", envOr("CHAT_SERVER", "http://localhost:8080"), "relay base URL")
	flags.StringVarP(&token, "token", "t", os.Getenv("CHAT_TOKEN"), "bearer token")
	flags.StringVarP(&userID, "user", "u", os.Getenv("CHAT_USER"), "user id (defaults to the token subject)")
	flags.StringVar(&userName, "name", "", "display name used for optimistic messages")
	flags.StringSliceVar(&transports, "transports", []string{"websocket", "polling"}, "transports tried in order")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// session is one authenticated client: request API plus event connection
type session struct {
	me      models.UserRef
	api     *api.Client
	manager *connection.Manager
}

func newSession() (*session, error) {
	me, err := identity(token, userID, userName)
	if err != nil {
		return nil, err
	}

	cfg := config.DefaultClientConfig()
	cfg.ServerURL = serverURL
	if len(transports) > 0 {
		cfg.Transports = transports
	}

	tokens := api.StaticTokens(token)
	client := api.NewClient(cfg.ServerURL, tokens, api.Config{Timeout: cfg.RequestTimeout})

	manager := connection.NewManager(connection.Options{
		Config: cfg,
		Dialer: transport.NewDialer(cfg),
		Tokens: tokens,
		Prober: client,
	})
	return &session{me: me, api: client, manager: manager}, nil
}

// connect dials the relay and waits for the connected state
func (s *session) connect(ctx context.Context) error {
	if err := s.manager.Connect(ctx, s.me.ID); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := s.manager.WaitConnected(waitCtx); err != nil {
		s.manager.Disconnect()
		return fmt.Errorf("connect to %s: %w", serverURL, err)
	}

	logger.WithField("socket_id", s.manager.SocketID()).Debug("connected")
	return nil
}

func (s *session) close() {
	s.manager.Disconnect()
}

// watchState reports reconnects and drops on stderr while a command runs
func (s *session) watchState() (cancel func()) {
	return s.manager.Observe(func(c connection.StateChange) {
		switch {
		case c.To == connection.StateConnected && c.Reconnect:
			fmt.Fprintln(os.Stderr, "-- reconnected")
		case c.To == connection.StateConnecting && c.From == connection.StateConnected:
			fmt.Fprintln(os.Stderr, "-- connection lost, retrying")
		case c.To == connection.StateDisconnected && c.Err != nil:
			fmt.Fprintf(os.Stderr, "-- disconnected: %v\n", c.Err)
		}
	})
}

// identity resolves the acting user. Without --user the token's claims
// are read unverified; the relay does the real check.
func identity(tokenString, id, name string) (models.UserRef, error) {
	if id != "" {
		return models.UserRef{ID: id, Name: name}, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return models.UserRef{}, fmt.Errorf("read token: %w", err)
	}

	ref := models.UserRef{Name: name}
	if v, ok := claims["user_id"].(string); ok {
		ref.ID = v
	}
	if ref.ID == "" {
		ref.ID, _ = claims.GetSubject()
	}
	if ref.Name == "" {
		if v, ok := claims["name"].(string); ok {
			ref.Name = v
		}
	}
	if ref.ID == "" {
		return models.UserRef{}, errors.New("token carries no user id, pass --user")
	}
	return ref, nil
}

// interrupted returns a context cancelled on SIGINT or SIGTERM
func interrupted(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
