package discord

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/zhubert/plural-bot/bot"
	"github.com/zhubert/plural-bot/logger"
	"github.com/zhubert/plural-bot/projects"
)

func TestMain(m *testing.M) {
	logger.Reset()
	logger.Init(os.DevNull)

	code := m.Run()

	logger.Reset()
	os.Exit(code)
}

// fakeAPI records calls made by the responders.
type fakeAPI struct {
	sends        []*discordgo.MessageSend
	sendChannels []string
	typing       []string
	responds     []*discordgo.InteractionResponse
	edits        []*discordgo.WebhookEdit
	missing      map[string]bool // Message IDs ChannelMessage reports as gone
	respondErr   error
}

func (f *fakeAPI) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.sendChannels = append(f.sendChannels, channelID)
	f.sends = append(f.sends, data)
	return &discordgo.Message{ID: "sent"}, nil
}

func (f *fakeAPI) ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.missing[messageID] {
		return nil, errors.New("404 Not Found")
	}
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

func (f *fakeAPI) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	f.typing = append(f.typing, channelID)
	return nil
}

func (f *fakeAPI) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	if f.respondErr != nil {
		return f.respondErr
	}
	f.responds = append(f.responds, resp)
	return nil
}

func (f *fakeAPI) InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.edits = append(f.edits, newresp)
	return &discordgo.Message{}, nil
}

func TestToMessage(t *testing.T) {
	botUser := &discordgo.User{ID: "999"}
	human := &discordgo.User{ID: "111"}

	tests := []struct {
		name   string
		msg    *discordgo.Message
		botID  string
		thread bool
		wantOK bool
	}{
		{"mention", &discordgo.Message{ID: "m", ChannelID: "c", Author: human, Content: "<@999> hi", Mentions: []*discordgo.User{botUser}}, "999", false, true},
		{"in thread", &discordgo.Message{ID: "m", ChannelID: "t", Author: human, Content: "<@999> hi", Mentions: []*discordgo.User{botUser}}, "999", true, true},
		{"no mention", &discordgo.Message{ID: "m", ChannelID: "c", Author: human, Content: "hi"}, "999", false, false},
		{"other mention", &discordgo.Message{ID: "m", ChannelID: "c", Author: human, Mentions: []*discordgo.User{human}}, "999", false, false},
		{"bot author", &discordgo.Message{ID: "m", ChannelID: "c", Author: &discordgo.User{ID: "5", Bot: true}, Mentions: []*discordgo.User{botUser}}, "999", false, false},
		{"not ready", &discordgo.Message{ID: "m", ChannelID: "c", Author: human, Mentions: []*discordgo.User{botUser}}, "", false, false},
		{"no author", &discordgo.Message{ID: "m", ChannelID: "c", Mentions: []*discordgo.User{botUser}}, "999", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := toMessage(tt.msg, tt.botID, func(string) bool { return tt.thread })
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.ID != tt.msg.ID || got.ChannelID != tt.msg.ChannelID || got.AuthorID != "111" || got.Content != tt.msg.Content || got.BotUserID != "999" {
				t.Errorf("message = %+v", got)
			}
			if tt.thread && got.ThreadID != tt.msg.ChannelID {
				t.Errorf("ThreadID = %q, want %q", got.ThreadID, tt.msg.ChannelID)
			}
			if !tt.thread && got.ThreadID != "" {
				t.Errorf("ThreadID = %q, want empty", got.ThreadID)
			}
		})
	}
}

func TestToSelection(t *testing.T) {
	component := func(customID string, values ...string) discordgo.MessageComponentInteractionData {
		return discordgo.MessageComponentInteractionData{CustomID: customID, Values: values}
	}

	tests := []struct {
		name      string
		i         *discordgo.Interaction
		wantOK    bool
		wantUser  string
		wantValue string
	}{
		{
			"guild member",
			&discordgo.Interaction{Type: discordgo.InteractionMessageComponent, ChannelID: "c", Member: &discordgo.Member{User: &discordgo.User{ID: "111"}}, Data: component(SelectCustomID, "api")},
			true, "111", "api",
		},
		{
			"direct message user",
			&discordgo.Interaction{Type: discordgo.InteractionMessageComponent, ChannelID: "dm", User: &discordgo.User{ID: "222"}, Data: component(SelectCustomID, "web")},
			true, "222", "web",
		},
		{
			"no value",
			&discordgo.Interaction{Type: discordgo.InteractionMessageComponent, ChannelID: "c", User: &discordgo.User{ID: "222"}, Data: component(SelectCustomID)},
			true, "222", "",
		},
		{
			"other component",
			&discordgo.Interaction{Type: discordgo.InteractionMessageComponent, ChannelID: "c", Data: component("something_else", "x")},
			false, "", "",
		},
		{
			"slash command",
			&discordgo.Interaction{Type: discordgo.InteractionApplicationCommand, ChannelID: "c"},
			false, "", "",
		},
		{"nil", nil, false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := toSelection(tt.i, nil)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (got.UserID != tt.wantUser || got.Value != tt.wantValue || got.ChannelID != tt.i.ChannelID) {
				t.Errorf("selection = %+v", got)
			}
		})
	}
}

func TestBuildMessageSend(t *testing.T) {
	send := buildMessageSend(bot.Outgoing{
		Content: "see attached",
		Files:   []bot.File{{Name: "out.txt", Content: "body"}},
		Options: []projects.Option{{Label: "api", Value: "api", Description: "/base/api"}},
	})

	if send.Content != "see attached" {
		t.Errorf("Content = %q", send.Content)
	}
	if send.AllowedMentions == nil || len(send.AllowedMentions.Parse) != 0 {
		t.Error("replies must not ping anyone")
	}

	if len(send.Files) != 1 || send.Files[0].Name != "out.txt" {
		t.Fatalf("Files = %+v", send.Files)
	}
	body, _ := io.ReadAll(send.Files[0].Reader)
	if string(body) != "body" {
		t.Errorf("file body = %q", body)
	}

	if len(send.Components) != 1 {
		t.Fatalf("Components = %+v", send.Components)
	}
	row, ok := send.Components[0].(discordgo.ActionsRow)
	if !ok || len(row.Components) != 1 {
		t.Fatalf("row = %+v", send.Components[0])
	}
	menu, ok := row.Components[0].(discordgo.SelectMenu)
	if !ok || menu.CustomID != SelectCustomID || len(menu.Options) != 1 || menu.Options[0].Value != "api" || menu.Options[0].Description != "/base/api" {
		t.Errorf("menu = %+v", row.Components[0])
	}
}

func TestBuildMessageSend_Plain(t *testing.T) {
	send := buildMessageSend(bot.Outgoing{Content: "hi"})
	if len(send.Files) != 0 || len(send.Components) != 0 {
		t.Errorf("plain reply has extras: %+v", send)
	}
}

func TestMessageResponder(t *testing.T) {
	f := &fakeAPI{}
	r := &messageResponder{api: f, channelID: "c", guildID: "g", messageID: "m"}

	if err := r.Typing(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.Reply(context.Background(), bot.Outgoing{Content: "done"}); err != nil {
		t.Fatal(err)
	}

	if len(f.typing) != 1 || f.typing[0] != "c" {
		t.Errorf("typing = %v", f.typing)
	}
	if len(f.sends) != 1 || f.sendChannels[0] != "c" {
		t.Fatalf("sends = %v", f.sends)
	}
	ref := f.sends[0].Reference
	if ref == nil || ref.MessageID != "m" || ref.ChannelID != "c" || ref.GuildID != "g" {
		t.Errorf("Reference = %+v", ref)
	}
}

func TestSelectionResponder_Update(t *testing.T) {
	f := &fakeAPI{}
	r := &selectionResponder{api: f, interaction: &discordgo.Interaction{ID: "i"}, channelID: "c"}

	if err := r.Update(context.Background(), "working"); err != nil {
		t.Fatal(err)
	}
	if err := r.Update(context.Background(), "done"); err != nil {
		t.Fatal(err)
	}

	if len(f.responds) != 1 {
		t.Fatalf("responds = %d, want 1", len(f.responds))
	}
	resp := f.responds[0]
	if resp.Type != discordgo.InteractionResponseUpdateMessage || resp.Data.Content != "working" || resp.Data.Components == nil || len(resp.Data.Components) != 0 {
		t.Errorf("response = %+v", resp)
	}
	if len(f.edits) != 1 || *f.edits[0].Content != "done" {
		t.Errorf("edits = %+v", f.edits)
	}
}

func TestSelectionResponder_UpdateErrorAllowsRetry(t *testing.T) {
	f := &fakeAPI{respondErr: errors.New("unknown interaction")}
	r := &selectionResponder{api: f, interaction: &discordgo.Interaction{ID: "i"}}

	if err := r.Update(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
	f.respondErr = nil
	if err := r.Update(context.Background(), "y"); err != nil {
		t.Fatal(err)
	}
	if len(f.responds) != 1 || len(f.edits) != 0 {
		t.Errorf("failed respond should not count as responded")
	}
}

func TestSelectionResponder_ReplyTo(t *testing.T) {
	tests := []struct {
		name      string
		messageID string
		missing   bool
		wantRef   bool
	}{
		{"original exists", "m1", false, true},
		{"original deleted", "m1", true, false},
		{"no original", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeAPI{missing: map[string]bool{"m1": tt.missing}}
			r := &selectionResponder{api: f, channelID: "c", guildID: "g"}

			if err := r.ReplyTo(context.Background(), tt.messageID, bot.Outgoing{Content: "result"}); err != nil {
				t.Fatal(err)
			}
			if len(f.sends) != 1 || f.sendChannels[0] != "c" || f.sends[0].Content != "result" {
				t.Fatalf("sends = %+v", f.sends)
			}
			hasRef := f.sends[0].Reference != nil
			if hasRef != tt.wantRef {
				t.Errorf("reference = %v, want %v", hasRef, tt.wantRef)
			}
		})
	}
}

func TestNew(t *testing.T) {
	g, err := New("token", nil)
	if err != nil {
		t.Fatal(err)
	}
	if g.session.Identify.Intents != Intents {
		t.Errorf("Intents = %v", g.session.Identify.Intents)
	}
	if g.session.Identify.Token != "Bot token" {
		t.Errorf("Token = %q", g.session.Identify.Token)
	}
	if g.BotID() != "" {
		t.Error("BotID should be empty before ready")
	}

	g.onReady(g.session, &discordgo.Ready{User: &discordgo.User{ID: "999", Username: "plural"}})
	if g.BotID() != "999" {
		t.Errorf("BotID = %q after ready", g.BotID())
	}
}

// blockingHandler counts messages and holds each one until release is closed.
type blockingHandler struct {
	started chan struct{}
	release chan struct{}
	mu      sync.Mutex
	count   int
}

func (h *blockingHandler) HandleMessage(ctx context.Context, msg bot.Message, r bot.Responder) {
	h.mu.Lock()
	h.count++
	h.mu.Unlock()
	h.started <- struct{}{}
	<-h.release
}

func (h *blockingHandler) HandleSelection(ctx context.Context, sel bot.Selection, r bot.SelectionResponder) {
}

func (h *blockingHandler) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func TestGateway_CloseWaitsForHandlersAndDropsLateEvents(t *testing.T) {
	h := &blockingHandler{started: make(chan struct{}, 2), release: make(chan struct{})}
	g, err := New("token", h)
	if err != nil {
		t.Fatal(err)
	}
	g.onReady(g.session, &discordgo.Ready{User: &discordgo.User{ID: "999"}})

	mention := &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		Content:   "<@999> hi",
		Author:    &discordgo.User{ID: "111"},
		Mentions:  []*discordgo.User{{ID: "999"}},
	}}

	go g.onMessageCreate(g.session, mention)
	<-h.started

	closed := make(chan error, 1)
	go func() { closed <- g.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while a handler was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(h.release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the handler finished")
	}

	g.onMessageCreate(g.session, mention)
	if got := h.calls(); got != 1 {
		t.Errorf("handler ran %d times, want 1; events after Close must be dropped", got)
	}
}
