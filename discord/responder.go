package discord

import (
	"context"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/zhubert/plural-bot/bot"
)

// messageResponder replies to one inbound message.
type messageResponder struct {
	api       api
	channelID string
	guildID   string
	messageID string
}

func (r *messageResponder) Reply(ctx context.Context, out bot.Outgoing) error {
	send := buildMessageSend(out)
	send.Reference = &discordgo.MessageReference{
		MessageID: r.messageID,
		ChannelID: r.channelID,
		GuildID:   r.guildID,
	}
	_, err := r.api.ChannelMessageSendComplex(r.channelID, send, discordgo.WithContext(ctx))
	return err
}

func (r *messageResponder) Typing(ctx context.Context) error {
	return r.api.ChannelTyping(r.channelID, discordgo.WithContext(ctx))
}

// selectionResponder answers a project menu interaction. The first Update
// responds to the interaction; later ones edit that response.
type selectionResponder struct {
	api         api
	interaction *discordgo.Interaction
	channelID   string
	guildID     string

	mu        sync.Mutex
	responded bool
}

func (r *selectionResponder) Update(ctx context.Context, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.responded {
		components := []discordgo.MessageComponent{}
		_, err := r.api.InteractionResponseEdit(r.interaction, &discordgo.WebhookEdit{
			Content:    &content,
			Components: &components,
		}, discordgo.WithContext(ctx))
		return err
	}

	err := r.api.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Components: []discordgo.MessageComponent{},
		},
	}, discordgo.WithContext(ctx))
	if err == nil {
		r.responded = true
	}
	return err
}

func (r *selectionResponder) ReplyTo(ctx context.Context, messageID string, out bot.Outgoing) error {
	send := buildMessageSend(out)
	if messageID != "" {
		if _, err := r.api.ChannelMessage(r.channelID, messageID, discordgo.WithContext(ctx)); err == nil {
			send.Reference = &discordgo.MessageReference{
				MessageID: messageID,
				ChannelID: r.channelID,
				GuildID:   r.guildID,
			}
		}
		// Otherwise the original message is gone; post to the channel
	}
	_, err := r.api.ChannelMessageSendComplex(r.channelID, send, discordgo.WithContext(ctx))
	return err
}

// buildMessageSend converts a reply into a Discord message.
func buildMessageSend(out bot.Outgoing) *discordgo.MessageSend {
	send := &discordgo.MessageSend{
		Content: out.Content,
		// Echoed Claude output must not ping anyone
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}

	for _, f := range out.Files {
		send.Files = append(send.Files, &discordgo.File{
			Name:        f.Name,
			ContentType: "text/plain; charset=utf-8",
			Reader:      strings.NewReader(f.Content),
		})
	}

	if len(out.Options) > 0 {
		options := make([]discordgo.SelectMenuOption, 0, len(out.Options))
		for _, o := range out.Options {
			options = append(options, discordgo.SelectMenuOption{
				Label:       o.Label,
				Value:       o.Value,
				Description: o.Description,
			})
		}
		send.Components = []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.SelectMenu{
						MenuType:    discordgo.StringSelectMenu,
						CustomID:    SelectCustomID,
						Placeholder: "Select a project",
						Options:     options,
					},
				},
			},
		}
	}
	return send
}
