// Package discord connects the bot Orchestrator to the Discord gateway.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/zhubert/plural-bot/bot"
	"github.com/zhubert/plural-bot/logger"
)

// SelectCustomID identifies the project selection menu.
const SelectCustomID = "project_select"

// Intents requested from the gateway. Message content is a privileged intent
// and must be enabled for the application in the developer portal.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentMessageContent |
	discordgo.IntentsDirectMessages

// Handler processes normalized events.
type Handler interface {
	HandleMessage(ctx context.Context, msg bot.Message, r bot.Responder)
	HandleSelection(ctx context.Context, sel bot.Selection, r bot.SelectionResponder)
}

// api is the subset of *discordgo.Session the responders use.
type api interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Gateway owns the Discord session and dispatches events to a Handler.
type Gateway struct {
	session *discordgo.Session
	handler Handler
	log     *slog.Logger

	mu     sync.RWMutex
	ctx    context.Context
	botID  string
	closed bool // Set by Close; no handler starts after it

	wg      sync.WaitGroup
	removes []func()
}

// New creates a Gateway for the bot token. It does not connect.
func New(token string, handler Handler) (*Gateway, error) {
	s, err := discordgo.New("Bot " + strings.TrimPrefix(token, "Bot "))
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	s.Identify.Intents = Intents
	s.ShouldReconnectOnError = true

	routeLibraryLogs()

	return &Gateway{
		session: s,
		handler: handler,
		log:     logger.WithComponent("discord"),
		ctx:     context.Background(),
	}, nil
}

// Open registers event handlers and connects. Handlers run with ctx until
// Close is called.
func (g *Gateway) Open(ctx context.Context) error {
	g.mu.Lock()
	g.ctx = ctx
	g.mu.Unlock()

	g.removes = append(g.removes,
		g.session.AddHandler(g.onReady),
		g.session.AddHandler(g.onMessageCreate),
		g.session.AddHandler(g.onInteractionCreate),
	)

	if err := g.session.Open(); err != nil {
		return fmt.Errorf("failed to connect to discord: %w", err)
	}
	return nil
}

// Close disconnects and waits for in-flight handlers to return. Events
// dispatched after Close starts are dropped.
func (g *Gateway) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	for _, remove := range g.removes {
		remove()
	}
	g.removes = nil

	err := g.session.Close()
	g.wg.Wait()
	return err
}

// begin registers a handler run. ok is false once Close has started; otherwise
// the caller must call g.wg.Done when finished.
func (g *Gateway) begin() (ctx context.Context, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, false
	}
	g.wg.Add(1)
	return g.ctx, true
}

// BotID returns the bot's own user ID once the gateway is ready.
func (g *Gateway) BotID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.botID
}

func (g *Gateway) onReady(s *discordgo.Session, r *discordgo.Ready) {
	if r.User == nil {
		return
	}
	g.mu.Lock()
	g.botID = r.User.ID
	g.mu.Unlock()
	g.log.Info("bot is ready and connected", "username", r.User.Username, "id", r.User.ID, "guilds", len(r.Guilds))
}

func (g *Gateway) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	msg, ok := toMessage(m.Message, g.BotID(), func(channelID string) bool {
		ch, err := s.State.Channel(channelID)
		return err == nil && ch.IsThread()
	})
	if !ok {
		return
	}

	ctx, ok := g.begin()
	if !ok {
		g.log.Debug("dropped message during shutdown", "messageID", msg.ID)
		return
	}
	defer g.wg.Done()
	defer g.recoverHandler("message")

	g.log.Debug("received mention", "messageID", msg.ID, "authorID", msg.AuthorID, "channelID", msg.ChannelID)
	g.handler.HandleMessage(ctx, msg, &messageResponder{
		api:       s,
		channelID: m.ChannelID,
		guildID:   m.GuildID,
		messageID: m.ID,
	})
}

func (g *Gateway) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sel, ok := toSelection(i.Interaction, func(channelID string) bool {
		ch, err := s.State.Channel(channelID)
		return err == nil && ch.IsThread()
	})
	if !ok {
		return
	}

	ctx, ok := g.begin()
	if !ok {
		g.log.Debug("dropped selection during shutdown", "channelID", sel.ChannelID)
		return
	}
	defer g.wg.Done()
	defer g.recoverHandler("interaction")

	g.handler.HandleSelection(ctx, sel, &selectionResponder{
		api:         s,
		interaction: i.Interaction,
		channelID:   i.ChannelID,
		guildID:     i.GuildID,
	})
}

// recoverHandler keeps a panicking handler from taking down the process.
func (g *Gateway) recoverHandler(event string) {
	if r := recover(); r != nil {
		g.log.Error("panic in event handler", "event", event, "panic", r)
	}
}

// toMessage normalizes a gateway message. ok is false for messages the bot
// should ignore: its own and other bots' messages, and messages that do not
// mention it.
func toMessage(m *discordgo.Message, botID string, isThread func(string) bool) (bot.Message, bool) {
	if m == nil || m.Author == nil || m.Author.Bot || botID == "" {
		return bot.Message{}, false
	}

	mentioned := false
	for _, u := range m.Mentions {
		if u != nil && u.ID == botID {
			mentioned = true
			break
		}
	}
	if !mentioned {
		return bot.Message{}, false
	}

	msg := bot.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		AuthorID:  m.Author.ID,
		Content:   m.Content,
		BotUserID: botID,
	}
	if isThread != nil && isThread(m.ChannelID) {
		msg.ThreadID = m.ChannelID
	}
	return msg, true
}

// toSelection normalizes a project menu interaction. ok is false for any
// other interaction.
func toSelection(i *discordgo.Interaction, isThread func(string) bool) (bot.Selection, bool) {
	if i == nil || i.Type != discordgo.InteractionMessageComponent {
		return bot.Selection{}, false
	}
	data, ok := i.Data.(discordgo.MessageComponentInteractionData)
	if !ok || data.CustomID != SelectCustomID {
		return bot.Selection{}, false
	}

	sel := bot.Selection{ChannelID: i.ChannelID}
	switch {
	case i.Member != nil && i.Member.User != nil:
		sel.UserID = i.Member.User.ID
	case i.User != nil:
		sel.UserID = i.User.ID
	}
	if len(data.Values) > 0 {
		sel.Value = data.Values[0]
	}
	if isThread != nil && isThread(i.ChannelID) {
		sel.ThreadID = i.ChannelID
	}
	return sel, true
}

// routeLibraryLogs sends discordgo's internal logging through slog.
func routeLibraryLogs() {
	log := logger.WithComponent("discordgo")
	discordgo.Logger = func(msgL, caller int, format string, a ...interface{}) {
		msg := fmt.Sprintf(format, a...)
		switch msgL {
		case discordgo.LogError:
			log.Error(msg)
		case discordgo.LogWarning:
			log.Warn(msg)
		case discordgo.LogInformational:
			log.Info(msg)
		default:
			log.Debug(msg)
		}
	}
}
