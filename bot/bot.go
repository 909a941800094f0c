// Package bot turns chat messages into Claude requests and Claude results
// into replies.
//
// The Orchestrator is platform-agnostic: a gateway adapter (see package
// discord) normalizes inbound events into Message and Selection values and
// implements Responder and SelectionResponder for replies.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/zhubert/plural-bot/claude"
	"github.com/zhubert/plural-bot/git"
	"github.com/zhubert/plural-bot/logger"
	"github.com/zhubert/plural-bot/output"
	"github.com/zhubert/plural-bot/projects"
	"github.com/zhubert/plural-bot/queue"
	"github.com/zhubert/plural-bot/session"
)

// User-facing replies.
const (
	MsgUnauthorized    = "You are not authorized to use this bot."
	MsgEmptyPrompt     = "Please enter a prompt. Example: @Bot review this code"
	MsgPlanUsage       = "Usage: /plan <prompt>"
	MsgNoProjects      = "Error: no projects are available. Check the bot configuration."
	MsgChooseProject   = "Choose a project:"
	MsgNoSelection     = "Error: no project was selected."
	MsgInvalidProject  = "Error: the selected project is not valid."
	MsgFileAttached    = "The output was too long, so it is attached as a file."
	MsgTranscript      = "Full transcript attached."
	MsgSystemError     = "A system error occurred. Please try again later."
	MsgNoProjectStatus = "No project selected. Mention me with a prompt or /project to choose one."
)

// Commands recognized at the start of a prompt.
const (
	CmdProject = "/project"
	CmdPlan    = "/plan"
	CmdStatus  = "/status"
	CmdReset   = "/reset"
)

// Config holds the Orchestrator's collaborators.
type Config struct {
	Executor Executor
	Sessions *session.Registry
	Projects Projects
	Auth     Authorizer
	Repos    RepoInspector    // Optional; enriches /status
	Now      func() time.Time // Optional; defaults to time.Now

	// OnClaudeSession is called after a run records a new Claude session ID.
	// Optional; used to persist the registry.
	OnClaudeSession func(ctx context.Context, threadID string)
}

// Orchestrator handles messages and project selections.
type Orchestrator struct {
	executor Executor
	sessions *session.Registry
	projects Projects
	auth     Authorizer
	repos    RepoInspector
	now      func() time.Time
	log      *slog.Logger

	onClaudeSession func(ctx context.Context, threadID string)
}

// New creates an Orchestrator. Executor, Sessions, Projects and Auth are
// required.
func New(cfg Config) *Orchestrator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		executor: cfg.Executor,
		sessions: cfg.Sessions,
		projects: cfg.Projects,
		auth:     cfg.Auth,
		repos:    cfg.Repos,
		now:      now,
		log:      logger.WithComponent("bot"),

		onClaudeSession: cfg.OnClaudeSession,
	}
}

var mentionPattern = regexp.MustCompile(`<@!?(\d+)>`)

// StripMentions removes mentions of botUserID from content and trims the
// result. Mentions of other users are kept.
func StripMentions(content, botUserID string) string {
	stripped := mentionPattern.ReplaceAllStringFunc(content, func(m string) string {
		if botUserID != "" && mentionPattern.FindStringSubmatch(m)[1] == botUserID {
			return ""
		}
		return m
	})
	return strings.TrimSpace(stripped)
}

// ThreadKey returns the session key for a message: its thread if it has one,
// otherwise its channel.
func ThreadKey(threadID, channelID string) string {
	if threadID != "" {
		return threadID
	}
	return channelID
}

// parseCommand splits a leading /command from the prompt. cmd is empty when
// the prompt is not a known command.
func parseCommand(prompt string) (cmd, rest string) {
	word, rest, _ := strings.Cut(prompt, " ")
	// Also split on newline so "/plan\nmulti-line prompt" works
	if before, after, ok := strings.Cut(word, "\n"); ok {
		word, rest = before, after+" "+rest
	}
	switch word {
	case CmdProject, CmdPlan, CmdStatus, CmdReset:
		return word, strings.TrimSpace(rest)
	}
	return "", prompt
}

// HandleMessage processes one inbound message.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg Message, r Responder) {
	threadID := ThreadKey(msg.ThreadID, msg.ChannelID)
	log := logger.WithThread(threadID).With("component", "bot", "userID", msg.AuthorID)

	if !o.auth.IsAllowed(msg.AuthorID) {
		o.send(ctx, log, r.Reply, Outgoing{Content: MsgUnauthorized})
		return
	}

	prompt := StripMentions(msg.Content, msg.BotUserID)
	cmd, rest := parseCommand(prompt)

	planMode := false
	switch cmd {
	case CmdProject:
		o.showProjectSelector(ctx, log, r, session.PendingPrompt{})
		return
	case CmdStatus:
		o.send(ctx, log, r.Reply, Outgoing{Content: o.status(ctx, threadID)})
		return
	case CmdReset:
		o.send(ctx, log, r.Reply, Outgoing{Content: o.reset(threadID)})
		return
	case CmdPlan:
		if rest == "" {
			o.send(ctx, log, r.Reply, Outgoing{Content: MsgPlanUsage})
			return
		}
		planMode = true
		prompt = rest
	}

	if prompt == "" {
		o.send(ctx, log, r.Reply, Outgoing{Content: MsgEmptyPrompt})
		return
	}

	log.Info("processing prompt", "promptLength", len(prompt), "planMode", planMode)

	if !o.sessions.HasWorkingDir(threadID) {
		o.showProjectSelector(ctx, log, r, session.PendingPrompt{
			ThreadID:  threadID,
			Prompt:    prompt,
			PlanMode:  planMode,
			MessageID: msg.ID,
			ChannelID: msg.ChannelID,
			UserID:    msg.AuthorID,
		})
		return
	}

	if err := r.Typing(ctx); err != nil {
		log.Debug("typing indicator failed", "error", err)
	}
	o.execute(ctx, log, threadID, prompt, planMode, r.Reply)
}

// HandleSelection processes a project chosen from the selection menu. The
// session is reset so Claude context never carries over between projects,
// then any pending prompt for the thread is run.
func (o *Orchestrator) HandleSelection(ctx context.Context, sel Selection, r SelectionResponder) {
	threadID := ThreadKey(sel.ThreadID, sel.ChannelID)
	log := logger.WithThread(threadID).With("component", "bot", "userID", sel.UserID)

	if !o.auth.IsAllowed(sel.UserID) {
		o.update(ctx, log, r, MsgUnauthorized)
		return
	}
	if sel.Value == "" {
		o.update(ctx, log, r, MsgNoSelection)
		return
	}

	log.Info("project selected", "project", sel.Value)

	path, ok := o.projects.Resolve(sel.Value)
	if !ok || !o.projects.IsWithinBase(path) {
		log.Warn("rejected project selection", "project", sel.Value, "path", path)
		o.update(ctx, log, r, MsgInvalidProject)
		return
	}

	o.sessions.Reset(threadID)
	o.sessions.SetWorkingDir(threadID, path)

	pending, ok := o.sessions.ConsumePendingPrompt(threadID)
	if !ok {
		o.update(ctx, log, r, fmt.Sprintf("Project %q selected. Mention me with a prompt to start.", sel.Value))
		return
	}

	o.update(ctx, log, r, fmt.Sprintf("Working in project %q...", sel.Value))
	o.execute(ctx, log, threadID, pending.Prompt, pending.PlanMode, func(ctx context.Context, out Outgoing) error {
		return r.ReplyTo(ctx, pending.MessageID, out)
	})
}

// showProjectSelector replies with the project menu. A non-empty pending
// prompt is stored so it runs once a project is chosen.
func (o *Orchestrator) showProjectSelector(ctx context.Context, log *slog.Logger, r Responder, pending session.PendingPrompt) {
	list := o.projects.List()
	if len(list) == 0 {
		o.send(ctx, log, r.Reply, Outgoing{Content: MsgNoProjects})
		return
	}

	if pending.Prompt != "" {
		o.sessions.SetPendingPrompt(pending)
	}

	o.send(ctx, log, r.Reply, Outgoing{Content: MsgChooseProject, Options: projects.Options(list)})
	log.Debug("displayed project selector", "projectCount", len(list))
}

// execute runs prompt for threadID through the queue and sends the outcome.
func (o *Orchestrator) execute(ctx context.Context, log *slog.Logger, threadID, prompt string, planMode bool, reply func(context.Context, Outgoing) error) {
	info := o.sessions.GetOrCreate(threadID)
	req := claude.Request{
		Prompt:          prompt,
		ResumeSessionID: info.ClaudeSessionID,
		WorkingDir:      info.WorkingDir,
		PlanMode:        planMode,
	}

	onQueued := queue.WithQueuedCallback(func(position int) {
		o.send(ctx, log, reply, Outgoing{
			Content: fmt.Sprintf("Queued at position %d. Your request will run when the ones ahead of it finish.", position),
		})
	})

	start := o.now()
	result := o.executor.Submit(ctx, req, onQueued)

	if !result.Success {
		log.Warn("request failed", "kind", result.Kind, "error", result.Error)
		msg := result.Error
		if msg == "" {
			msg = "unknown error"
		}
		o.send(ctx, log, reply, Outgoing{Content: "Error: " + msg})
		return
	}

	// The thread may have switched projects or reset while the run was queued
	if result.SessionID != "" && result.SessionID != info.ClaudeSessionID {
		if o.sessions.RecordClaudeSession(info, result.SessionID) && o.onClaudeSession != nil {
			o.onClaudeSession(ctx, threadID)
		}
	}

	out := o.render(result, planMode)
	if err := reply(ctx, out); err != nil {
		log.Error("failed to send result", "error", err)
		o.send(ctx, log, reply, Outgoing{Content: MsgSystemError})
		return
	}

	log.Info("request completed",
		"duration", o.now().Sub(start),
		"files", len(out.Files),
		"claudeSessionID", result.SessionID)
}

// render formats a successful result as a reply.
func (o *Orchestrator) render(result claude.Result, planMode bool) Outgoing {
	now := o.now()
	formatted := output.Format(result.Output, now)

	var out Outgoing
	switch formatted.Kind {
	case output.KindFile:
		out.Content = MsgFileAttached
		out.Files = append(out.Files, File{Name: formatted.FileName, Content: formatted.Content})
	default:
		out.Content = formatted.Content
	}

	if planMode && strings.TrimSpace(result.Transcript) != "" {
		name := strings.Replace(output.FileName(now), "claude-response-", "claude-transcript-", 1)
		out.Files = append(out.Files, File{Name: name, Content: result.Transcript})
		if formatted.Kind == output.KindMessage {
			out.Content = output.Truncate(out.Content+"\n\n"+MsgTranscript, output.SafeMessageLimit)
		}
	}
	return out
}

// status describes the thread's project, Claude session and the queue.
func (o *Orchestrator) status(ctx context.Context, threadID string) string {
	var b strings.Builder

	dir := o.sessions.WorkingDir(threadID)
	if dir == "" {
		b.WriteString(MsgNoProjectStatus)
	} else {
		fmt.Fprintf(&b, "Project: %s (%s)", filepath.Base(dir), dir)
		if o.repos != nil {
			st, err := o.repos.Status(ctx, dir)
			switch {
			case errors.Is(err, git.ErrNotRepository):
			case err != nil:
				o.log.Debug("repo status failed", "dir", dir, "error", err)
			default:
				branch := st.Branch
				if branch == "" {
					branch = "detached HEAD"
				}
				fmt.Fprintf(&b, "\nBranch: %s, %s", branch, strings.ToLower(st.Summary))
				if len(st.Files) > 0 {
					b.WriteString("\n" + output.CodeBlock(changedFiles(st.Files), ""))
				}
			}
		}
		if o.sessions.ClaudeSessionID(threadID) != "" {
			b.WriteString("\nClaude session: active (next prompt resumes it)")
		} else {
			b.WriteString("\nClaude session: none (next prompt starts fresh)")
		}
	}

	state := "idle"
	if o.executor.Running() {
		state = "busy"
	}
	fmt.Fprintf(&b, "\nQueue: %s, %d waiting", state, o.executor.Len())
	return b.String()
}

// maxStatusFiles caps the changed files listed by /status.
const maxStatusFiles = 10

func changedFiles(files []string) string {
	if len(files) <= maxStatusFiles {
		return strings.Join(files, "\n")
	}
	return strings.Join(files[:maxStatusFiles], "\n") + fmt.Sprintf("\n... and %d more", len(files)-maxStatusFiles)
}

// reset forgets the Claude session but keeps the project.
func (o *Orchestrator) reset(threadID string) string {
	dir := o.sessions.WorkingDir(threadID)
	if dir == "" {
		return MsgNoProjectStatus
	}
	o.sessions.ForgetClaudeSession(threadID)
	return fmt.Sprintf("Conversation reset. The next prompt starts a new Claude session in %s.", filepath.Base(dir))
}

func (o *Orchestrator) send(ctx context.Context, log *slog.Logger, reply func(context.Context, Outgoing) error, out Outgoing) {
	if err := reply(ctx, out); err != nil {
		log.Error("failed to send reply", "error", err)
	}
}

func (o *Orchestrator) update(ctx context.Context, log *slog.Logger, r SelectionResponder, content string) {
	if err := r.Update(ctx, content); err != nil {
		log.Error("failed to update selection", "error", err)
	}
}
