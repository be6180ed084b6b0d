package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/loykin/rankvisor/internal/config"
	"github.com/loykin/rankvisor/internal/discord"
	"github.com/loykin/rankvisor/internal/logger"
	"github.com/loykin/rankvisor/internal/roblox"
)

// loadRuntime reads the config and builds the root logger. The closer is
// never nil.
func loadRuntime(path string) (*config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, nil, err
	}
	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, closer, nil
}

func newSession(token string) (*discordgo.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("discord token is empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds
	return s, nil
}

func newRegistrar(cfg config.DiscordConfig) (*discord.Registrar, error) {
	s, err := newSession(cfg.Token)
	if err != nil {
		return nil, err
	}
	return discord.NewRegistrar(s, cfg.ApplicationID, cfg.GuildID), nil
}

func newRobloxClient(cfg config.RobloxConfig) *roblox.Client {
	return roblox.New(roblox.Options{
		Cookie:    cfg.Cookie,
		UsersURL:  cfg.UsersURL,
		GroupsURL: cfg.GroupsURL,
		Timeout:   cfg.Timeout,
	})
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

func valOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
