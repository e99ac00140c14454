// Package notify is the single chokepoint for outbound messages. The
// platform stays quiet by default; the gate lets through exactly three
// kinds of sends and records every decision.
package notify

import (
	"context"
	"fmt"

	"github.com/echoposthq/echopost/internal/chatwoot"
	"github.com/echoposthq/echopost/internal/observability/metrics"
	"github.com/echoposthq/echopost/pkg/logging"
)

// Kind classifies an outbound message for the policy decision.
type Kind string

const (
	// KindClarification blocks an order on a missing required field.
	KindClarification Kind = "clarification"
	// KindError tells the sender their content could not be processed.
	KindError Kind = "error"
	// KindReady announces finished content, only for opted-in users.
	KindReady Kind = "ready"
)

// Outbound is a send request presented to the gate.
type Outbound struct {
	Kind           Kind
	ConversationID int
	UserID         string
	Content        string
	Items          []chatwoot.SelectItem
}

type sender interface {
	SendText(ctx context.Context, conversationID int, content string) (*chatwoot.Message, error)
	SendInputSelect(ctx context.Context, conversationID int, content string, items []chatwoot.SelectItem) (*chatwoot.Message, error)
}

type optInChecker interface {
	ReadyOptIn(ctx context.Context, userID string) (bool, error)
}

// Gate applies the minimal-messaging policy before anything reaches
// Chatwoot.
type Gate struct {
	sender   sender
	profiles optInChecker
	metrics  *metrics.PipelineMetrics
	logger   *logging.Logger
}

func NewGate(sender sender, profiles optInChecker, m *metrics.PipelineMetrics, logger *logging.Logger) *Gate {
	if sender == nil {
		panic("notify: sender cannot be nil")
	}
	if profiles == nil {
		panic("notify: profiles cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Gate{
		sender:   sender,
		profiles: profiles,
		metrics:  m,
		logger:   logger.Component("notify"),
	}
}

// Send applies the policy and delivers the message when allowed. It
// reports whether the message actually went out; a false result with a
// nil error means the policy suppressed it, which is the normal outcome
// for anything outside the three permitted kinds.
func (g *Gate) Send(ctx context.Context, out Outbound) (bool, error) {
	allowed, err := g.permits(ctx, out)
	if err != nil {
		return false, err
	}
	g.metrics.ObserveOutbound(string(out.Kind), allowed)
	if !allowed {
		g.logger.Debug("outbound message suppressed",
			"kind", string(out.Kind),
			"conversation_id", out.ConversationID,
		)
		return false, nil
	}

	if len(out.Items) > 0 {
		if _, err := g.sender.SendInputSelect(ctx, out.ConversationID, out.Content, out.Items); err != nil {
			return false, err
		}
		return true, nil
	}
	if _, err := g.sender.SendText(ctx, out.ConversationID, out.Content); err != nil {
		return false, err
	}
	return true, nil
}

func (g *Gate) permits(ctx context.Context, out Outbound) (bool, error) {
	switch out.Kind {
	case KindClarification, KindError:
		return true, nil
	case KindReady:
		if out.UserID == "" {
			return false, nil
		}
		optIn, err := g.profiles.ReadyOptIn(ctx, out.UserID)
		if err != nil {
			return false, fmt.Errorf("notify: check ready opt-in: %w", err)
		}
		return optIn, nil
	default:
		return false, nil
	}
}

// Ask sends the blocking clarification question for one order field.
func (g *Gate) Ask(ctx context.Context, conversationID int, field string) error {
	question, items := Question(field)
	sent, err := g.Send(ctx, Outbound{
		Kind:           KindClarification,
		ConversationID: conversationID,
		Content:        question,
		Items:          items,
	})
	if err != nil {
		return err
	}
	if !sent {
		return fmt.Errorf("notify: clarification for %q was suppressed", field)
	}
	return nil
}

// ErrorNotice tells the sender something went wrong and suggests a
// retry.
func (g *Gate) ErrorNotice(ctx context.Context, conversationID int, reason string) error {
	content := fmt.Sprintf("Sorry, we couldn't process your message: %s. Please send it again in a moment.", reason)
	_, err := g.Send(ctx, Outbound{
		Kind:           KindError,
		ConversationID: conversationID,
		Content:        content,
	})
	return err
}

// ReadyNotice announces finished content to users who opted in. It
// reports whether the notice went out.
func (g *Gate) ReadyNotice(ctx context.Context, conversationID int, userID string) (bool, error) {
	return g.Send(ctx, Outbound{
		Kind:           KindReady,
		ConversationID: conversationID,
		UserID:         userID,
		Content:        "Your content is ready. Open EchoPost to review and publish it.",
	})
}
