package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/seatwatch/internal/dto"
	"github.com/noah-isme/seatwatch/internal/models"
	appErrors "github.com/noah-isme/seatwatch/pkg/errors"
)

type subscriptionStore interface {
	Create(ctx context.Context, criteria models.SubscriptionCriteria, contact string, enabled bool) (*models.Subscription, error)
	Update(ctx context.Context, ref models.SubscriptionRef, patch models.SubscriptionPatch) (*models.Subscription, error)
	Get(ctx context.Context, ref models.SubscriptionRef) (*models.Subscription, error)
	ListRuns(ctx context.Context, subscriptionID int64, limit int) ([]models.Run, error)
}

type verificationSender interface {
	SendVerification(ctx context.Context, sub models.Subscription) (*models.DeliveryReceipt, error)
}

// SubscriptionService validates subscriber requests before they reach the
// store and triggers contact verification.
type SubscriptionService struct {
	store     subscriptionStore
	notifier  verificationSender
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSubscriptionService constructs the service.
func NewSubscriptionService(store subscriptionStore, notifier verificationSender, validate *validator.Validate, logger *zap.Logger) *SubscriptionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubscriptionService{store: store, notifier: notifier, validator: validate, logger: logger}
}

// Create stores a new subscription and sends the verification message.
// A failed verification send is logged; the subscription stays unverified
// and can be re-sent with ResendVerification.
func (s *SubscriptionService) Create(ctx context.Context, req dto.CreateSubscriptionRequest) (*models.Subscription, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subscription payload")
	}
	contact, err := normalizedContact(req.Contact)
	if err != nil {
		return nil, err
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	sub, err := s.store.Create(ctx, models.SubscriptionCriteria{
		InstitutionKey: req.InstitutionKey,
		CourseKey:      req.CourseKey,
		SectionKey:     req.SectionKey,
		TermKey:        req.TermKey,
	}, contact, enabled)
	if err != nil {
		return nil, err
	}

	s.logger.Info("subscription created", zap.Int64("subscription_id", sub.ID), zap.String("access_key", sub.AccessKey))
	s.sendVerification(ctx, *sub)
	return sub, nil
}

// Update applies a partial change. Changing the contact resets verification
// and sends a fresh verification message.
func (s *SubscriptionService) Update(ctx context.Context, ref models.SubscriptionRef, req dto.UpdateSubscriptionRequest) (*models.Subscription, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subscription update payload")
	}

	patch := models.SubscriptionPatch{
		InstitutionKey: req.InstitutionKey,
		CourseKey:      req.CourseKey,
		SectionKey:     req.SectionKey,
		TermKey:        req.TermKey,
		Enabled:        req.Enabled,
	}
	if req.Contact != nil {
		contact, err := normalizedContact(*req.Contact)
		if err != nil {
			return nil, err
		}
		patch.Contact = &contact
	}

	sub, err := s.store.Update(ctx, ref, patch)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if patch.Contact != nil && !sub.Verified {
		s.sendVerification(ctx, *sub)
	}
	return sub, nil
}

// Get loads a subscription by id or access key.
func (s *SubscriptionService) Get(ctx context.Context, ref models.SubscriptionRef) (*models.Subscription, error) {
	sub, err := s.store.Get(ctx, ref)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return sub, nil
}

// Runs returns the latest runs of a subscription, newest first.
func (s *SubscriptionService) Runs(ctx context.Context, ref models.SubscriptionRef, limit int) ([]models.Run, error) {
	sub, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.store.ListRuns(ctx, sub.ID, limit)
}

// Verify confirms the contact when the reply comes from the stored contact
// and names the subscription's access key.
func (s *SubscriptionService) Verify(ctx context.Context, req dto.VerifyContactRequest) (*models.Subscription, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verification payload")
	}

	ref := models.SubscriptionRef{AccessKey: strings.ToLower(strings.TrimSpace(req.AccessKey))}
	sub, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if ResolveContact(req.Contact).Normalized != ResolveContact(sub.Contact).Normalized {
		s.logger.Warn("verification contact mismatch", zap.Int64("subscription_id", sub.ID))
		return nil, appErrors.Clone(appErrors.ErrForbidden, "contact does not match subscription")
	}
	if sub.Verified {
		return sub, nil
	}

	verified := true
	sub, err = s.store.Update(ctx, models.SubscriptionRef{ID: sub.ID}, models.SubscriptionPatch{Verified: &verified})
	if err != nil {
		return nil, mapStoreError(err)
	}
	s.logger.Info("subscription verified", zap.Int64("subscription_id", sub.ID))
	return sub, nil
}

// ResendVerification sends the verification message again.
func (s *SubscriptionService) ResendVerification(ctx context.Context, ref models.SubscriptionRef) error {
	sub, err := s.Get(ctx, ref)
	if err != nil {
		return err
	}
	if s.notifier == nil {
		return appErrors.Clone(appErrors.ErrUnsupportedChannel, "no notifier configured")
	}
	_, err = s.notifier.SendVerification(ctx, *sub)
	return err
}

func (s *SubscriptionService) sendVerification(ctx context.Context, sub models.Subscription) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.SendVerification(ctx, sub); err != nil {
		s.logger.Warn("verification send failed", zap.Int64("subscription_id", sub.ID), zap.Error(err))
	}
}

func normalizedContact(raw string) (string, error) {
	contact := ResolveContact(raw)
	if contact.Kind == models.ContactUnknown {
		return "", appErrors.Clone(appErrors.ErrContact, "contact must be a phone number or email address")
	}
	return contact.Normalized, nil
}

func mapStoreError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.ErrNotFound
	}
	return err
}
