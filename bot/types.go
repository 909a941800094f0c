package bot

import (
	"context"

	"github.com/zhubert/plural-bot/claude"
	"github.com/zhubert/plural-bot/git"
	"github.com/zhubert/plural-bot/projects"
	"github.com/zhubert/plural-bot/queue"
)

// Message is an inbound chat message addressed to the bot.
type Message struct {
	ID        string
	ChannelID string
	ThreadID  string // Set when the message sits in a thread
	AuthorID  string
	Content   string // Raw text, mentions included
	BotUserID string // Mentions of this user are stripped from Content
}

// Selection is a project chosen from a selection menu.
type Selection struct {
	ChannelID string
	ThreadID  string
	UserID    string
	Value     string // Project name; empty if nothing was chosen
}

// File is an attachment.
type File struct {
	Name    string
	Content string
}

// Outgoing is a reply. Options, when set, are rendered as a project
// selection menu.
type Outgoing struct {
	Content string
	Files   []File
	Options []projects.Option
}

// Responder sends replies to an inbound message.
type Responder interface {
	Reply(ctx context.Context, out Outgoing) error
	// Typing signals that work is in progress. Best effort.
	Typing(ctx context.Context) error
}

// SelectionResponder answers a project selection.
type SelectionResponder interface {
	// Update replaces the selection menu message with content and removes
	// the menu.
	Update(ctx context.Context, content string) error
	// ReplyTo replies to messageID in the selection's channel, or posts to
	// the channel when that message is gone.
	ReplyTo(ctx context.Context, messageID string, out Outgoing) error
}

// Executor runs Claude requests one at a time.
type Executor interface {
	Submit(ctx context.Context, req claude.Request, opts ...queue.SubmitOption) claude.Result
	Len() int
	Running() bool
}

// Projects lists and validates project directories.
type Projects interface {
	List() []projects.Project
	Resolve(name string) (string, bool)
	IsWithinBase(path string) bool
}

// Authorizer decides who may use the bot.
type Authorizer interface {
	IsAllowed(userID string) bool
}

// RepoInspector reports the git state of a project for /status.
type RepoInspector interface {
	Status(ctx context.Context, dir string) (*git.Status, error)
}
