package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/pkg/models"
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	var workspace string
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Send one prompt to the agent loop and print the turn's events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg, workspace)
			if err != nil {
				return err
			}
			launchConfiguredServers(a.manager, cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			defer a.shutdown(context.Background())
			a.loop.Start(ctx)
			defer a.loop.Stop()

			handle := agent.NewAgentHandle(a.loop)
			if err := handle.SendPrompt(ctx, args[0]); err != nil {
				return err
			}
			return drainUntilTurnEnd(ctx, handle)
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", ".", "directory the filesystem and exec tools are scoped to")
	return cmd
}

func newServeCommand() *cobra.Command {
	var workspace string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Hold an agent loop open, reading prompts from stdin and printing events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg, workspace)
			if err != nil {
				return err
			}
			launchConfiguredServers(a.manager, cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			defer a.shutdown(context.Background())
			a.loop.Start(ctx)
			defer a.loop.Stop()

			// Hot-reload only logs what changed; a running loop keeps the
			// config it was built with, matching how the loop owns its
			// state for the lifetime of the process.
			if path, _ := cmd.Flags().GetString("config"); path != "" {
				stopWatch, err := config.Watch(path, func(updated *config.Config, err error) {
					if err != nil {
						a.logger.Warn(ctx, "config reload failed", "error", err)
						return
					}
					a.logger.Info(ctx, "config file changed; restart to apply", "path", path)
				})
				if err == nil {
					defer stopWatch()
				}
			}

			if interval := cfg.Tools.Jobs.PruneInterval; interval > 0 {
				go func() {
					ticker := time.NewTicker(interval)
					defer ticker.Stop()
					for {
						select {
						case <-ctx.Done():
							return
						case <-ticker.C:
							if n, err := a.jobs.Prune(ctx, cfg.Tools.Jobs.Retention); err == nil && n > 0 {
								a.logger.Info(ctx, "pruned finished jobs", "count", n)
							}
						}
					}
				}()
			}

			sink := newSessionSink(ctx, a.sessions, cfg.Name)
			handle := agent.NewAgentHandle(a.loop)
			if err := sink.restore(ctx, handle); err != nil {
				a.logger.Warn(ctx, "session restore failed", "error", err)
			}
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				line := scanner.Text()
				if line == "" {
					continue
				}
				if err := handle.SendPrompt(ctx, line); err != nil {
					fmt.Fprintln(os.Stderr, "send_prompt:", err)
					continue
				}
				if err := drainUntilTurnEnd(ctx, handle); err != nil {
					fmt.Fprintln(os.Stderr, "turn:", err)
				}
				if err := sink.persistTurn(ctx, handle); err != nil {
					a.logger.Warn(ctx, "session persistence failed", "error", err)
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", ".", "directory the filesystem and exec tools are scoped to")
	return cmd
}

// sessionSink persists each finished turn's new messages into a session
// store, guarded by a per-session lock so a second process sharing the
// same durable store can't interleave appends.
type sessionSink struct {
	store      sessions.Store
	toolEvents sessions.ToolEventStore
	locker     sessions.Locker
	session    *models.Session
	persisted  int
}

func newSessionSink(ctx context.Context, store sessions.Store, agentName string) *sessionSink {
	if agentName == "" {
		agentName = "nexus-agent"
	}
	sink := &sessionSink{
		store:  store,
		locker: sessions.NewLocalLocker(5 * time.Second),
	}
	if cs, ok := store.(*sessions.CockroachStore); ok {
		sink.toolEvents = sessions.NewSQLToolEventStore(cs.DB())
	}
	key := sessions.SessionKey(agentName, "stdin")
	if sess, err := store.GetOrCreate(ctx, key, agentName); err == nil {
		sink.session = sess
	}
	return sink
}

// restore imports the session's persisted history into the loop so a new
// process picks up where the previous one stopped. The transcript is
// sanitized first: a snapshot cut mid-turn can carry tool calls with no
// matching result, which the model API rejects.
func (s *sessionSink) restore(ctx context.Context, handle agent.AgentHandle) error {
	if s.session == nil {
		return nil
	}
	history, err := s.store.GetHistory(ctx, s.session.ID, 0)
	if err != nil || len(history) == 0 {
		return err
	}
	repaired := sessions.SanitizeToolUseResultPairing(history)
	msgs := make([]models.Message, len(repaired))
	for i, m := range repaired {
		msgs[i] = *m
	}
	if err := handle.Import(ctx, agent.AgentSnapshot{
		ID: s.session.ID,
		ConversationState: agent.ConversationStateSnapshot{
			ID:       s.session.ID,
			Messages: msgs,
		},
	}); err != nil {
		return err
	}
	s.persisted = len(msgs)
	return nil
}

// persistTurn appends every conversation message not yet written to the
// store. Messages are immutable once appended, so the cursor only moves
// forward; compaction shrinking the conversation resets it.
func (s *sessionSink) persistTurn(ctx context.Context, handle agent.AgentHandle) error {
	if s.session == nil {
		return nil
	}
	snap, err := handle.Snapshot(ctx)
	if err != nil {
		return err
	}
	msgs := snap.ConversationState.Messages
	if len(msgs) < s.persisted {
		s.persisted = 0
	}

	if err := s.locker.Lock(ctx, s.session.ID); err != nil {
		return err
	}
	defer s.locker.Unlock(s.session.ID)

	for i := s.persisted; i < len(msgs); i++ {
		msg := msgs[i]
		if err := s.store.AppendMessage(ctx, s.session.ID, &msg); err != nil {
			return err
		}
		s.recordToolEvents(ctx, &msg)
		s.persisted = i + 1
	}
	return nil
}

// recordToolEvents mirrors a message's tool calls and results into the
// queryable tool-event tables. Only available on the SQL-backed store.
func (s *sessionSink) recordToolEvents(ctx context.Context, msg *models.Message) {
	if s.toolEvents == nil {
		return
	}
	for _, tc := range msg.ToolCalls {
		_ = s.toolEvents.AddToolCall(ctx, s.session.ID, msg.ID, &sessions.ToolCall{
			ID:        tc.ID,
			ToolName:  tc.Name,
			InputJSON: tc.Input,
		})
	}
	for _, tr := range msg.ToolResults {
		_ = s.toolEvents.AddToolResult(ctx, s.session.ID, msg.ID, tr.ToolCallID, &sessions.ToolResult{
			ToolCallID: tr.ToolCallID,
			IsError:    tr.IsError,
			Content:    tr.Content,
		})
	}
}

// drainUntilTurnEnd prints events from handle until the current turn ends,
// is cancelled, or errors, auto-approving every ApprovalRequest along the
// way; a terminal session wanting a real approval prompt would answer
// EventApprovalRequest from here instead.
func drainUntilTurnEnd(ctx context.Context, handle agent.AgentHandle) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-handle.RecvEvent():
			if !ok {
				return fmt.Errorf("event stream closed")
			}
			switch ev.Kind {
			case agent.EventAssistantText:
				fmt.Print(ev.AssistantTextDelta)
			case agent.EventToolUseStart:
				fmt.Fprintf(os.Stderr, "\n[tool] %s(%s)\n", ev.ToolName, ev.ToolUseID)
			case agent.EventToolUseEnd:
				if ev.ToolErr != nil {
					fmt.Fprintf(os.Stderr, "[tool error] %s: %v\n", ev.ToolName, ev.ToolErr)
				}
			case agent.EventApprovalRequest:
				fmt.Fprintf(os.Stderr, "\n[approval] %s\n%s\n", ev.ApprovalToolUse.Name, ev.ApprovalContext)
				if err := handle.SendApproval(ctx, ev.ApprovalToolUseID, agent.ApprovalApprove, ""); err != nil {
					return err
				}
			case agent.EventTurnEnd:
				fmt.Println()
				return nil
			case agent.EventTurnCancelled:
				fmt.Fprintln(os.Stderr, "[cancelled]")
				return nil
			case agent.EventRequestError, agent.EventAgentError, agent.EventProtocolError:
				return ev.Err
			}
		}
	}
}
