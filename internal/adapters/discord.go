package adapters

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/Napageneral/memsync/internal/config"
	"github.com/Napageneral/memsync/internal/ingest"
	"github.com/Napageneral/memsync/internal/normalize"
	"github.com/Napageneral/memsync/internal/store"
)

const discordBatchSize = 100

// DiscordAdapter pulls guild text channel history through the REST API
// with a bot token.
type DiscordAdapter struct {
	session  *discordgo.Session
	guildIDs []string
	Logf     Logf
}

// NewDiscordAdapter builds a REST-only session. cfg.BaseURL, when set,
// replaces the scheme and host of every request.
func NewDiscordAdapter(cfg config.DiscordConfig, rps float64, logf Logf) (*DiscordAdapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("discord: DISCORD_TOKEN not set: %w", ErrMissingCredential)
	}
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}

	transport := &discordTransport{next: http.DefaultTransport}
	if cfg.BaseURL != "" {
		origin, err := url.Parse(cfg.BaseURL)
		if err != nil || origin.Host == "" {
			return nil, fmt.Errorf("discord: invalid base_url %q", cfg.BaseURL)
		}
		transport.origin = origin
	}
	if rps > 0 {
		transport.limiter = rate.NewLimiter(rate.Limit(rps), int(math.Ceil(rps)))
	}
	s.Client = &http.Client{Timeout: 60 * time.Second, Transport: transport}

	return &DiscordAdapter{session: s, guildIDs: cfg.GuildIDs, Logf: orDefault(logf)}, nil
}

// discordTransport paces requests and optionally points them at another origin.
type discordTransport struct {
	next    http.RoundTripper
	origin  *url.URL
	limiter *rate.Limiter
}

func (t *discordTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	if t.origin != nil {
		req = req.Clone(req.Context())
		req.URL.Scheme = t.origin.Scheme
		req.URL.Host = t.origin.Host
		req.Host = t.origin.Host
	}
	return t.next.RoundTrip(req)
}

func (a *DiscordAdapter) Name() string {
	return "discord"
}

func (a *DiscordAdapter) Sync(ctx context.Context, st *store.Store) (Result, error) {
	start := time.Now()
	result := Result{}
	logf := orDefault(a.Logf)
	sink := ingest.NewSink(st, "discord", logf)

	for _, guildID := range a.guildIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		guild, err := a.session.Guild(guildID, discordgo.WithContext(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.FailedItems++
			logf("[discord] Error fetching guild %s: %v", guildID, err)
			continue
		}
		guild.ID = guildID
		logf("[discord] Syncing guild: %s", guild.Name)

		channels, err := a.session.GuildChannels(guildID, discordgo.WithContext(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.FailedItems++
			logf("[discord] Error listing channels for %s: %v", guild.Name, err)
			continue
		}

		for _, ch := range channels {
			if ch.Type != discordgo.ChannelTypeGuildText {
				continue
			}
			result.Conversations++
			before := sink.Counts().Inserted
			if err := a.syncChannel(ctx, sink, guild, ch, &result); err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				result.FailedItems++
				logf("[discord]   #%s failed: %v", ch.Name, err)
				continue
			}
			if n := sink.Counts().Inserted - before; n > 0 {
				logf("[discord]   -> %d new messages in #%s", n, ch.Name)
			}
		}
	}

	finish(&result, sink, start)
	logf("[discord] Done: %d total new messages", result.Inserted)
	return result, nil
}

// syncChannel pages backward from the newest message and stops once it
// reaches messages older than the newest one already stored for ch.
func (a *DiscordAdapter) syncChannel(ctx context.Context, sink *ingest.Sink, guild *discordgo.Guild, ch *discordgo.Channel, result *Result) error {
	bound, hasBound, err := sink.Store().LastTimestamp(ctx, "discord", ch.ID)
	if err != nil {
		return err
	}

	lastID := ""
	for {
		messages, err := a.session.ChannelMessages(ch.ID, discordBatchSize, lastID, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return err
		}
		if len(messages) == 0 {
			return nil
		}

		reachedBound := false
		for _, msg := range messages {
			ts := msg.Timestamp.UTC()
			if msg.Timestamp.IsZero() {
				ts = normalize.Now()
			}
			if hasBound && ts.Before(bound) {
				reachedBound = true
				continue
			}
			if msg.Content == "" && len(msg.Attachments) == 0 {
				result.Skipped++
				skip("discord", "empty")
				continue
			}
			result.Total++

			content := msg.Content
			if content == "" {
				content = fmt.Sprintf("[%d attachment(s)]", len(msg.Attachments))
			}
			sender, authorID := "unknown", ""
			if msg.Author != nil {
				sender = msg.Author.Username + "#" + msg.Author.Discriminator
				authorID = msg.Author.ID
			}
			sink.Put(ctx, ingest.Candidate{
				Content:   content,
				Sender:    sender,
				Recipient: "#" + ch.Name,
				Timestamp: ts,
				Metadata: map[string]any{
					"channelId":      ch.ID,
					"guildId":        guild.ID,
					"authorId":       authorID,
					"messageId":      msg.ID,
					"hasAttachments": len(msg.Attachments) > 0,
				},
			})
		}

		lastID = messages[len(messages)-1].ID
		if reachedBound || len(messages) < discordBatchSize {
			return nil
		}
	}
}
