package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/loykin/rankvisor/internal/verify"
)

// Service is the verification logic behind the commands.
type Service interface {
	Begin(ctx context.Context, discordID, username string) (verify.Pending, error)
	Confirm(ctx context.Context, discordID string) (verify.Verified, error)
	Update(ctx context.Context, discordID string) (verify.Standing, error)
	Rank(ctx context.Context, username, rank string) (verify.RankChange, error)
	Background(ctx context.Context, username string) (verify.Background, error)
	AddBlacklist(ctx context.Context, groupID int64) (int, error)
	RemoveBlacklist(ctx context.Context, groupID int64) (bool, error)
	ListBlacklist(ctx context.Context) ([]int64, error)
}

// Responder is the part of *discordgo.Session the handlers use.
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildMemberNickname(guildID, userID, nickname string, options ...discordgo.RequestOption) error
}

// Purger removes expired pending verifications.
type Purger interface {
	PurgeExpiredPending(ctx context.Context) (int64, error)
}

// Gateway is the connection lifecycle of *discordgo.Session.
type Gateway interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
}

// Bot dispatches interactions to the service.
type Bot struct {
	svc     Service
	purger  Purger
	log     *slog.Logger
	timeout time.Duration
	sweep   time.Duration
}

type Options struct {
	Service Service
	Purger  Purger
	Log     *slog.Logger
	// Timeout bounds the work done for one interaction.
	Timeout time.Duration
	// SweepInterval is how often expired pending rows are purged.
	SweepInterval time.Duration
}

func NewBot(o Options) *Bot {
	b := &Bot{svc: o.Service, purger: o.Purger, log: o.Log, timeout: o.Timeout, sweep: o.SweepInterval}
	if b.log == nil {
		b.log = slog.New(slog.DiscardHandler)
	}
	if b.timeout <= 0 {
		b.timeout = 30 * time.Second
	}
	if b.sweep <= 0 {
		b.sweep = time.Minute
	}
	return b
}

// Run connects to the gateway and serves interactions until ctx is done.
func (b *Bot) Run(ctx context.Context, gw Gateway, rs Responder) error {
	remove := gw.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.log.Info("logged in to discord", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	defer remove()
	removeIC := gw.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		b.Handle(ctx, rs, i)
	})
	defer removeIC()

	if err := gw.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	b.log.Info("gateway connected")
	b.sweepLoop(ctx)
	if err := gw.Close(); err != nil {
		return fmt.Errorf("close gateway: %w", err)
	}
	return nil
}

func (b *Bot) sweepLoop(ctx context.Context) {
	if b.purger == nil {
		<-ctx.Done()
		return
	}
	t := time.NewTicker(b.sweep)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := b.purger.PurgeExpiredPending(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				b.log.Warn("purge expired verifications failed", "error", err)
			} else if n > 0 {
				b.log.Info("purged expired verifications", "count", n)
			}
		}
	}
}
