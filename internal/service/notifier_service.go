package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/noah-isme/seatwatch/internal/models"
	appErrors "github.com/noah-isme/seatwatch/pkg/errors"
)

// Deliverer sends a text body to a normalised destination.
type Deliverer interface {
	Deliver(ctx context.Context, destination, body string) (*models.DeliveryReceipt, error)
}

// NotifierConfig tunes message rendering and throttling.
type NotifierConfig struct {
	ManageURL  string
	RatePerSec int
}

// NotifierService renders and sends subscriber messages.
type NotifierService struct {
	sms       Deliverer
	formatter *MessageFormatter
	limiter   *rate.Limiter
	manageURL string
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewNotifierService wires the SMS transport. A nil formatter uses the
// default templates; a non-positive rate disables throttling.
func NewNotifierService(sms Deliverer, formatter *MessageFormatter, cfg NotifierConfig, metrics *MetricsService, logger *zap.Logger) *NotifierService {
	if formatter == nil {
		formatter = NewMessageFormatter(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return &NotifierService{
		sms:       sms,
		formatter: formatter,
		limiter:   limiter,
		manageURL: cfg.ManageURL,
		metrics:   metrics,
		logger:    logger,
	}
}

// Send delivers message over the channel for kind.
func (s *NotifierService) Send(ctx context.Context, kind models.ContactKind, destination, message string) (*models.DeliveryReceipt, error) {
	switch kind {
	case models.ContactPhone:
	case models.ContactEmail:
		return nil, appErrors.Clone(appErrors.ErrUnsupportedChannel, "email delivery is not implemented")
	default:
		return nil, appErrors.Clone(appErrors.ErrContact, "contact is neither a phone number nor an email address")
	}
	if s.sms == nil {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedChannel, "sms transport is not configured")
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, appErrors.WrapAs(appErrors.ErrTransport, err, "sms send throttled")
		}
	}

	receipt, err := s.sms.Deliver(ctx, destination, message)
	if err != nil {
		if errors.Is(err, appErrors.ErrTransport) {
			return nil, err
		}
		return nil, appErrors.WrapAs(appErrors.ErrTransport, err, "sms delivery failed")
	}
	if receipt == nil {
		return nil, appErrors.Clone(appErrors.ErrTransport, "sms transport returned no receipt")
	}
	return receipt, nil
}

// SendNotification tells a verified subscriber that seats opened.
func (s *NotifierService) SendNotification(ctx context.Context, sub models.Subscription, avail models.Availability) (*models.DeliveryReceipt, error) {
	contact, err := s.deliverableContact(sub)
	if err != nil {
		return nil, err
	}
	if !sub.Verified {
		return nil, appErrors.Clone(appErrors.ErrContact, "contact is not verified")
	}

	vars := s.subscriptionVars(sub)
	vars["available"] = strconv.Itoa(avail.Available)
	vars["total"] = strconv.Itoa(avail.Total)
	return s.render(ctx, TemplateNotification, contact, vars, sub)
}

// SendVerification asks the subscriber to confirm the contact. It does
// nothing for an already verified subscription.
func (s *NotifierService) SendVerification(ctx context.Context, sub models.Subscription) (*models.DeliveryReceipt, error) {
	if strings.TrimSpace(sub.Contact) == "" {
		return nil, appErrors.Clone(appErrors.ErrContact, "subscription has no contact")
	}
	if sub.Verified {
		return nil, nil
	}
	contact, err := s.deliverableContact(sub)
	if err != nil {
		return nil, err
	}
	return s.render(ctx, TemplateVerification, contact, s.subscriptionVars(sub), sub)
}

func (s *NotifierService) deliverableContact(sub models.Subscription) (models.Contact, error) {
	if strings.TrimSpace(sub.Contact) == "" {
		return models.Contact{}, appErrors.Clone(appErrors.ErrContact, "subscription has no contact")
	}
	contact := ResolveContact(sub.Contact)
	if contact.Kind == models.ContactUnknown {
		return models.Contact{}, appErrors.Clone(appErrors.ErrContact, "contact is neither a phone number nor an email address")
	}
	return contact, nil
}

func (s *NotifierService) render(ctx context.Context, template string, contact models.Contact, vars map[string]string, sub models.Subscription) (*models.DeliveryReceipt, error) {
	body, err := s.formatter.Format(template, vars)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrInternal, err, "render message")
	}

	receipt, err := s.Send(ctx, contact.Kind, contact.Normalized, body)
	s.metrics.ObserveMessage(template, err)
	if err != nil {
		s.logger.Warn("message delivery failed",
			zap.String("template", template),
			zap.Int64("subscription_id", sub.ID),
			zap.String("channel", string(contact.Kind)),
			zap.Error(err),
		)
		return nil, err
	}
	s.logger.Info("message delivered",
		zap.String("template", template),
		zap.Int64("subscription_id", sub.ID),
		zap.String("receipt_id", receipt.ID),
	)
	return receipt, nil
}

func (s *NotifierService) subscriptionVars(sub models.Subscription) map[string]string {
	section := sub.Section()
	if section == "" {
		section = "any section"
	}
	return map[string]string{
		"institution": sub.InstitutionKey,
		"course":      sub.CourseKey,
		"section":     section,
		"term":        sub.TermKey,
		"accessKey":   sub.AccessKey,
		"manageUrl":   s.manageURL,
	}
}
