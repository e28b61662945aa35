package agent

import (
	"context"

	"coldwatch/internal/command"
	"coldwatch/internal/logger"
	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
)

// handleMessage decodes directives from inbound text and applies them.
// Text without directives is dropped quietly.
func (a *Agent) handleMessage(ctx context.Context, msg models.InboundMessage) error {
	directives := command.Parse(msg.Text)
	if len(directives) == 0 {
		metrics.DirectivesTotal.WithLabelValues("none", "ignored").Inc()
		log := logger.WithComponent("agent")
		log.Debug().
			Str("message_id", msg.ID).
			Str("source", string(msg.Source)).
			Msg("message carried no directives")
		return nil
	}
	return a.live.ApplyAll(ctx, directives)
}
