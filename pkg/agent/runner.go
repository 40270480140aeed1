package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/chihyuyeh/coda/pkg/api"
	"github.com/chihyuyeh/coda/pkg/extract"
	"github.com/chihyuyeh/coda/pkg/model"
	"github.com/chihyuyeh/coda/pkg/observability"
	"github.com/chihyuyeh/coda/pkg/sandbox"
)

// ErrEmptyMessage is returned when Run is called with a blank user
// message.
var ErrEmptyMessage = errors.New("user message is empty")

// TruncationNotice prefixes the answer when the loop hits its round
// limit before the model produced a code-free reply.
const TruncationNotice = "Reached the round limit before completing the task. Best partial answer so far:\n\n"

// toolFeedbackPrefix marks execution results in the serialized model
// context so the model does not mistake them for user messages.
const toolFeedbackPrefix = "Execution result:\n"

// Runner drives the agent loop. One Runner serves all sessions of a
// process; per-conversation state lives entirely in the Session.
type Runner struct {
	backend  model.Backend
	executor sandbox.Executor
	cfg      Config
	logger   *slog.Logger
}

// NewRunner wires a runner. A nil logger selects slog.Default().
func NewRunner(backend model.Backend, executor sandbox.Executor, cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		backend:  backend,
		executor: executor,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run processes one user message to completion and returns the final
// answer text.
//
// Each round makes one model call, appends the assistant turn, and —
// when the reply contains fenced code — executes every block in source
// order, appending one tool turn per block. The loop ends when a reply
// carries no code, or when the round limit is reached, in which case the
// answer is the last assistant text prefixed with TruncationNotice.
//
// The only error classes Run returns are ErrSessionBusy, ErrEmptyMessage,
// *api.ModelCallError, and the context's own error on cancellation.
// Sandbox failures never surface here; they are fed back to the model as
// tool turns. On a model call failure nothing from that round is
// appended and the session stays resumable.
func (r *Runner) Run(ctx context.Context, sess *Session, message string, obs TurnObserver) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}
	if err := sess.beginRun(); err != nil {
		return "", err
	}
	defer sess.endRun()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	emit := func(t api.Turn) {
		sess.append(t)
		if obs != nil {
			obs.ObserveTurn(sess.ID(), t)
		}
	}

	// The configured bound wins over the session's own limit; the
	// session is stamped with it so views report the bound actually
	// applied.
	maxRounds := r.cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = sess.MaxRounds()
	}
	sess.setMaxRounds(maxRounds)

	emit(newTurn(api.RoleUser, message))

	lastAnswer := ""
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		comp, err := r.complete(ctx, sess)
		if err != nil {
			return "", err
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		blocks := extract.Blocks(comp.Text)
		asst := newTurn(api.RoleAssistant, comp.Text)
		asst.CodeBlocks = blocks
		emit(asst)

		round := sess.completeRound()

		if len(blocks) == 0 {
			sess.terminate()
			observability.LoopRounds.Observe(float64(round))
			r.logger.InfoContext(ctx, "loop finished",
				"session", sess.ID(), "rounds", round)
			return comp.Text, nil
		}
		lastAnswer = comp.Text

		for _, block := range blocks {
			res := r.executor.Execute(ctx, block, r.cfg.execTimeout())
			if err := ctx.Err(); err != nil {
				// Cancelled mid-round: discard the in-flight result
				// rather than leave a half-appended round behind.
				return "", err
			}
			tool := newTurn(api.RoleTool, res.FeedbackText())
			tool.Result = &res
			emit(tool)
		}

		if round >= maxRounds {
			sess.terminate()
			observability.LoopRounds.Observe(float64(round))
			r.logger.WarnContext(ctx, "round limit reached",
				"session", sess.ID(), "rounds", round)
			return TruncationNotice + lastAnswer, nil
		}
	}
}

// complete makes one metered model call over the session's current
// context window.
func (r *Runner) complete(ctx context.Context, sess *Session) (*model.Completion, error) {
	req := &model.Request{
		Model:        r.cfg.Model,
		Temperature:  r.cfg.Temperature,
		MaxTokens:    r.cfg.MaxTokens,
		Instructions: r.cfg.instructions(),
		Messages:     serializeTurns(sess.contextWindow(r.cfg.HistoryWindow)),
	}

	start := time.Now()
	comp, err := r.backend.Complete(ctx, req)
	elapsed := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}
	observability.ModelCallsTotal.WithLabelValues(r.backend.Name(), r.cfg.Model, status).Inc()
	observability.ModelCallLatency.WithLabelValues(r.backend.Name(), r.cfg.Model).Observe(elapsed.Seconds())

	if err != nil {
		r.logger.ErrorContext(ctx, "model call failed",
			"session", sess.ID(),
			"round", sess.RoundCount()+1,
			"error", err)
		return nil, err
	}

	observability.ModelTokensTotal.WithLabelValues(r.backend.Name(), r.cfg.Model, "input").Add(float64(comp.Usage.InputTokens))
	observability.ModelTokensTotal.WithLabelValues(r.backend.Name(), r.cfg.Model, "output").Add(float64(comp.Usage.OutputTokens))
	return comp, nil
}

// serializeTurns maps history turns to backend messages. Tool turns
// travel as user-role messages with a marker prefix: the loop's code
// execution is fence-based, not backend tool-calling, so the wire
// protocol has no native slot for them.
func serializeTurns(turns []api.Turn) []model.Message {
	msgs := make([]model.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case api.RoleTool:
			msgs = append(msgs, model.Message{
				Role:    "user",
				Content: toolFeedbackPrefix + t.Content,
			})
		default:
			msgs = append(msgs, model.Message{
				Role:    string(t.Role),
				Content: t.Content,
			})
		}
	}
	return msgs
}

func newTurn(role api.Role, content string) api.Turn {
	return api.Turn{
		ID:        api.NewTurnID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}
