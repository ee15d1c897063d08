package notify

import (
	"context"

	"marketplacer/internal/paas"
)

// PlatformSender writes alerts to the external log platform.
type PlatformSender struct {
	Client *paas.Client
	Agent  string
}

func (s PlatformSender) Name() string { return "platform" }

func (s PlatformSender) Send(ctx context.Context, msg Message) error {
	agent := s.Agent
	if agent == "" {
		agent = "marketplacer-collector"
	}
	return s.Client.CreateLog(ctx, paas.CreateLogRequest{
		Agent:    agent,
		Action:   "collector_" + msg.Kind,
		Level:    msg.Level,
		Details:  msg.Details,
		Metadata: map[string]any{"subject": msg.Subject},
	})
}
