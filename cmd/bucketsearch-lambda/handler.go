package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/hashicorp/go-hclog"
)

type deliveryHandler interface {
	HandleDelivery(ctx context.Context, bodies []string) error
}

// handler adapts SQS invocations to the orchestrator. The whole message
// batch is one delivery; returning an error makes SQS redeliver all of it.
type handler struct {
	deliveries deliveryHandler
	logger     hclog.Logger
}

func (h *handler) Handle(ctx context.Context, ev events.SQSEvent) error {
	bodies := make([]string, len(ev.Records))
	for i, msg := range ev.Records {
		bodies[i] = msg.Body
	}

	if err := h.deliveries.HandleDelivery(ctx, bodies); err != nil {
		h.logger.Error("delivery failed", "messages", len(bodies), "error", err)
		return err
	}
	h.logger.Debug("delivery handled", "messages", len(bodies))
	return nil
}
