package adapters

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/Napageneral/memsync/internal/config"
	"github.com/Napageneral/memsync/internal/ingest"
	"github.com/Napageneral/memsync/internal/normalize"
	"github.com/Napageneral/memsync/internal/store"
)

const slackHistoryLimit = 200

// SlackAdapter pulls channel history through the Slack Web API.
type SlackAdapter struct {
	client   *slack.Client
	channels []string
	Logf     Logf
}

func NewSlackAdapter(cfg config.SlackConfig, logf Logf) (*SlackAdapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("slack: SLACK_TOKEN not set: %w", ErrMissingCredential)
	}
	var opts []slack.Option
	if cfg.APIURL != "" {
		apiURL := cfg.APIURL
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &SlackAdapter{
		client:   slack.New(strings.TrimSpace(cfg.Token), opts...),
		channels: cfg.Channels,
		Logf:     orDefault(logf),
	}, nil
}

func (a *SlackAdapter) Name() string {
	return "slack"
}

// slackUsers resolves user ids to display names for a single run.
type slackUsers struct {
	client *slack.Client
	names  map[string]string
}

func newSlackUsers(client *slack.Client) *slackUsers {
	return &slackUsers{client: client, names: make(map[string]string)}
}

func (u *slackUsers) name(ctx context.Context, userID string) string {
	if userID == "" {
		return "unknown"
	}
	if name, ok := u.names[userID]; ok {
		return name
	}
	user, err := u.client.GetUserInfoContext(ctx, userID)
	if err != nil {
		return userID
	}
	name := user.RealName
	if name == "" {
		name = user.Name
	}
	if name == "" {
		name = userID
	}
	u.names[userID] = name
	return name
}

func (a *SlackAdapter) Sync(ctx context.Context, st *store.Store) (Result, error) {
	start := time.Now()
	result := Result{}
	logf := orDefault(a.Logf)
	sink := ingest.NewSink(st, "slack", logf)

	if len(a.channels) == 0 {
		a.listChannels(ctx, logf)
		finish(&result, sink, start)
		return result, nil
	}

	users := newSlackUsers(a.client)
	for _, channelID := range a.channels {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Conversations++

		channelName := channelID
		if info, err := a.client.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID}); err != nil {
			logf("[slack] Could not resolve channel %s: %v", channelID, err)
		} else if info.Name != "" {
			channelName = info.Name
		}
		logf("[slack] Syncing #%s...", channelName)

		before := sink.Counts().Inserted
		if err := a.syncChannel(ctx, sink, users, channelID, channelName, &result); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.FailedItems++
			logf("[slack]   #%s failed: %v", channelName, err)
			continue
		}
		if n := sink.Counts().Inserted - before; n > 0 {
			logf("[slack]   -> %d new messages", n)
		}
	}

	finish(&result, sink, start)
	logf("[slack] Done: %d total new messages", result.Inserted)
	return result, nil
}

func (a *SlackAdapter) listChannels(ctx context.Context, logf Logf) {
	logf("[slack] No SLACK_CHANNELS set, listing available:")
	channels, _, err := a.client.GetConversationsContext(ctx, &slack.GetConversationsParameters{
		Types: []string{"public_channel", "private_channel"},
	})
	if err != nil {
		logf("[slack] Could not list channels: %v", err)
		return
	}
	for _, ch := range channels {
		logf("  %s  #%s", ch.ID, ch.Name)
	}
}

// syncChannel requests only messages newer than the largest ts already
// stored for the channel.
func (a *SlackAdapter) syncChannel(ctx context.Context, sink *ingest.Sink, users *slackUsers, channelID, channelName string, result *Result) error {
	oldest, _, err := sink.Store().LastMetadataValue(ctx, "slack", channelID, "ts")
	if err != nil {
		return err
	}

	cursor := ""
	for {
		resp, err := a.client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: channelID,
			Cursor:    cursor,
			Oldest:    oldest,
			Limit:     slackHistoryLimit,
		})
		if err != nil {
			return err
		}

		for _, msg := range resp.Messages {
			if msg.Text == "" || msg.SubType == "channel_join" {
				result.Skipped++
				skip("slack", "empty")
				continue
			}
			result.Total++

			var ts time.Time
			if f, err := strconv.ParseFloat(msg.Timestamp, 64); err == nil {
				ts = normalize.UnixSeconds(f)
			} else {
				ts = normalize.Now()
			}
			sink.Put(ctx, ingest.Candidate{
				Content:   msg.Text,
				Sender:    users.name(ctx, msg.User),
				Recipient: "#" + channelName,
				Timestamp: ts,
				Metadata: compact(map[string]any{
					"channelId": channelID,
					"ts":        msg.Timestamp,
					"userId":    msg.User,
					"threadTs":  msg.ThreadTimestamp,
				}),
			})
		}

		if !resp.HasMore || resp.ResponseMetaData.NextCursor == "" {
			return nil
		}
		cursor = resp.ResponseMetaData.NextCursor
	}
}
