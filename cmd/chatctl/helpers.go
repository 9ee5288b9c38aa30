package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"playmate-chat/client"
	"playmate-chat/config"
	"playmate-chat/logger"
	"playmate-chat/models"
)

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log realtime activity to stderr")
}

// session bundles everything a command needs to talk to the service.
type session struct {
	cfg *Config
	api *client.APIClient
	rt  *client.Realtime
	log *zap.Logger
}

func newSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Auth.Token == "" {
		return nil, fmt.Errorf("no token configured, run 'chatctl config set auth.token <token>' first")
	}

	level := "error"
	if verbose {
		level = "debug"
	}
	log, err := logger.New(config.Log{Level: level, Development: true})
	if err != nil {
		return nil, err
	}

	var opts []client.Option
	if cfg.Server.BaseURL != "" {
		opts = append(opts, client.WithBaseURL(cfg.Server.BaseURL))
	}
	baseURL := cfg.Server.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:8082"
	}
	return &session{
		cfg: cfg,
		api: client.NewAPIClient(cfg.Auth.Token, opts...),
		rt: client.NewRealtime(client.RealtimeConfig{
			BaseURL:              baseURL,
			Token:                cfg.Auth.Token,
			AutoReconnect:        true,
			MaxReconnectAttempts: -1,
			Logger:               log,
		}),
		log: log,
	}, nil
}

// userID resolves the caller, preferring the configured id.
func (s *session) userID(ctx context.Context) (string, error) {
	if s.cfg.Auth.UserID != "" {
		return s.cfg.Auth.UserID, nil
	}
	me, err := s.api.Me(ctx)
	if err != nil {
		return "", err
	}
	return me.ID, nil
}

func (s *session) close() {
	_ = s.rt.Disconnect()
	_ = s.log.Sync()
}

func displayName(p models.Profile) string {
	switch {
	case p.DisplayName != "":
		return p.DisplayName
	case p.Username != "":
		return p.Username
	}
	return p.ID
}

func printMessage(w io.Writer, m models.Message, self string) {
	who := m.SenderID
	if who == self {
		who = "you"
	}
	status := ""
	if m.SenderID == self && m.IsRead {
		status = " (seen)"
	}
	fmt.Fprintf(w, "[%s] %s: %s%s\n", m.CreatedAt.Local().Format(time.Kitchen), who, m.Content, status)
}

func preview(m *models.Message) string {
	if m == nil {
		return "(no messages yet)"
	}
	content := strings.ReplaceAll(m.Content, "\n", " ")
	if r := []rune(content); len(r) > 40 {
		content = string(r[:40]) + "..."
	}
	return content
}
