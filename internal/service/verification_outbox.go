package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/seatwatch/internal/models"
	appErrors "github.com/noah-isme/seatwatch/pkg/errors"
	"github.com/noah-isme/seatwatch/pkg/jobs"
)

// VerificationOutbox queues verification messages and retries transport
// failures in the background. It satisfies the sender the subscription
// service expects, so callers see only whether the message was queued.
type VerificationOutbox struct {
	sender verificationSender
	queue  *jobs.Queue[models.Subscription]
	logger *zap.Logger
}

// NewVerificationOutbox wraps sender with a retrying queue.
func NewVerificationOutbox(sender verificationSender, cfg jobs.QueueConfig) *VerificationOutbox {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	o := &VerificationOutbox{sender: sender, logger: cfg.Logger}
	o.queue = jobs.NewQueue("verification", o.deliver, cfg)
	return o
}

// Start launches the delivery workers.
func (o *VerificationOutbox) Start(ctx context.Context) {
	o.queue.Start(ctx)
}

// Stop delivers what is already queued and waits for the workers.
func (o *VerificationOutbox) Stop() {
	o.queue.Stop()
}

// SendVerification queues a verification message. The receipt is always nil.
func (o *VerificationOutbox) SendVerification(ctx context.Context, sub models.Subscription) (*models.DeliveryReceipt, error) {
	if strings.TrimSpace(sub.Contact) == "" {
		return nil, appErrors.Clone(appErrors.ErrContact, "subscription has no contact")
	}
	if sub.Verified {
		return nil, nil
	}
	if err := o.queue.Enqueue(jobs.Job[models.Subscription]{ID: sub.AccessKey, Payload: sub}); err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrTransport, err, "queue verification message")
	}
	return nil, nil
}

func (o *VerificationOutbox) deliver(ctx context.Context, job jobs.Job[models.Subscription]) error {
	receipt, err := o.sender.SendVerification(ctx, job.Payload)
	if err != nil {
		if errors.Is(err, appErrors.ErrTransport) {
			return err
		}
		return jobs.Permanent(err)
	}
	if receipt != nil {
		o.logger.Debug("verification delivered",
			zap.Int64("subscription_id", job.Payload.ID),
			zap.String("receipt_id", receipt.ID),
			zap.Int("attempt", job.Attempt+1),
		)
	}
	return nil
}
