package repository

import (
	"context"
	"database/sql"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/noah-isme/seatwatch/internal/models"
	appErrors "github.com/noah-isme/seatwatch/pkg/errors"
)

const subscriptionColumns = `id, access_key, institution_key, course_key, section_key, term_key, contact,
       enabled, verified, last_run_id, created_at, updated_at`

const defaultAccessKeyAttempts = 16

var accessKeyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// SubscriptionRepository persists subscriptions and their run ledger.
type SubscriptionRepository struct {
	db          *sqlx.DB
	newKey      func() string
	now         func() time.Time
	keyAttempts int
}

// SubscriptionRepositoryOption customises the repository.
type SubscriptionRepositoryOption func(*SubscriptionRepository)

// WithAccessKeyGenerator replaces the access key generator.
func WithAccessKeyGenerator(fn func() string) SubscriptionRepositoryOption {
	return func(r *SubscriptionRepository) { r.newKey = fn }
}

// WithClock replaces the time source used for timestamps and retention cutoffs.
func WithClock(fn func() time.Time) SubscriptionRepositoryOption {
	return func(r *SubscriptionRepository) { r.now = fn }
}

// NewSubscriptionRepository constructs the repository.
func NewSubscriptionRepository(db *sqlx.DB, opts ...SubscriptionRepositoryOption) *SubscriptionRepository {
	r := &SubscriptionRepository{
		db:          db,
		newKey:      NewAccessKey,
		now:         time.Now,
		keyAttempts: defaultAccessKeyAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewAccessKey returns an 8 character lowercase key derived from a random UUID.
func NewAccessKey() string {
	id := uuid.New()
	return strings.ToLower(accessKeyEncoding.EncodeToString(id[:5]))
}

// Create inserts a subscription with a freshly generated access key. Key
// candidates are probed before insert and regenerated on a unique violation,
// so concurrent creators never share a key.
func (r *SubscriptionRepository) Create(ctx context.Context, criteria models.SubscriptionCriteria, contact string, enabled bool) (*models.Subscription, error) {
	sub := models.Subscription{
		InstitutionKey: strings.TrimSpace(criteria.InstitutionKey),
		CourseKey:      strings.TrimSpace(criteria.CourseKey),
		SectionKey:     normalizeSection(criteria.SectionKey),
		TermKey:        strings.TrimSpace(criteria.TermKey),
		Contact:        strings.TrimSpace(contact),
		Enabled:        enabled,
	}
	if err := validateRequired(map[string]string{
		"institutionKey": sub.InstitutionKey,
		"courseKey":      sub.CourseKey,
		"termKey":        sub.TermKey,
		"contact":        sub.Contact,
	}); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	for attempt := 0; attempt < r.keyAttempts; attempt++ {
		key := r.newKey()
		taken, err := r.accessKeyExists(ctx, key)
		if err != nil {
			return nil, appErrors.WrapAs(appErrors.ErrPersistence, err, "failed to check access key")
		}
		if taken {
			continue
		}
		sub.AccessKey = key
		err = r.insert(ctx, &sub)
		if err == nil {
			return &sub, nil
		}
		if isUniqueViolation(err) {
			continue
		}
		return nil, err
	}
	return nil, appErrors.Clone(appErrors.ErrPersistence, "could not allocate a unique access key")
}

func (r *SubscriptionRepository) accessKeyExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	query := r.db.Rebind(`SELECT EXISTS (SELECT 1 FROM subscriptions WHERE access_key = ?)`)
	if err := r.db.GetContext(ctx, &exists, query, key); err != nil {
		return false, fmt.Errorf("probe access key: %w", err)
	}
	return exists, nil
}

func (r *SubscriptionRepository) insert(ctx context.Context, sub *models.Subscription) error {
	query := r.db.Rebind(`INSERT INTO subscriptions
	(access_key, institution_key, course_key, section_key, term_key, contact, enabled, verified, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err := r.db.QueryRowxContext(ctx, query,
		sub.AccessKey, sub.InstitutionKey, sub.CourseKey, sub.SectionKey, sub.TermKey,
		sub.Contact, sub.Enabled, sub.Verified, sub.CreatedAt, sub.UpdatedAt,
	).Scan(&sub.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrPersistence, "insert subscription affected no rows")
	}
	if err != nil {
		if isUniqueViolation(err) {
			return err
		}
		return appErrors.WrapAs(appErrors.ErrPersistence, err, "failed to insert subscription")
	}
	return nil
}

// Get loads a subscription by id or access key. It returns sql.ErrNoRows
// when nothing matches.
func (r *SubscriptionRepository) Get(ctx context.Context, ref models.SubscriptionRef) (*models.Subscription, error) {
	where, arg, err := refCondition(ref)
	if err != nil {
		return nil, err
	}
	query := r.db.Rebind(fmt.Sprintf(`SELECT %s FROM subscriptions WHERE %s`, subscriptionColumns, where))
	var sub models.Subscription
	if err := r.db.GetContext(ctx, &sub, query, arg); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Update applies the fields present in patch to the referenced subscription
// and clears its last-run pointer so the next opening can alert again. A
// contact change also clears verified unless the patch sets it explicitly.
// It returns sql.ErrNoRows when nothing matches.
func (r *SubscriptionRepository) Update(ctx context.Context, ref models.SubscriptionRef, patch models.SubscriptionPatch) (*models.Subscription, error) {
	where, refArg, err := refCondition(ref)
	if err != nil {
		return nil, err
	}

	var (
		sets []string
		args []interface{}
	)
	set := func(column string, value interface{}) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	required := map[string]string{}
	if patch.InstitutionKey != nil {
		v := strings.TrimSpace(*patch.InstitutionKey)
		required["institutionKey"] = v
		set("institution_key", v)
	}
	if patch.CourseKey != nil {
		v := strings.TrimSpace(*patch.CourseKey)
		required["courseKey"] = v
		set("course_key", v)
	}
	if patch.SectionKey != nil {
		set("section_key", normalizeSection(patch.SectionKey))
	}
	if patch.TermKey != nil {
		v := strings.TrimSpace(*patch.TermKey)
		required["termKey"] = v
		set("term_key", v)
	}
	if patch.Enabled != nil {
		set("enabled", *patch.Enabled)
	}
	if patch.Verified != nil {
		set("verified", *patch.Verified)
	}
	if patch.Contact != nil {
		v := strings.TrimSpace(*patch.Contact)
		required["contact"] = v
		if patch.Verified == nil {
			sets = append(sets, "verified = CASE WHEN contact = ? THEN verified ELSE FALSE END")
			args = append(args, v)
		}
		set("contact", v)
	}
	if err := validateRequired(required); err != nil {
		return nil, err
	}
	sets = append(sets, "last_run_id = NULL")
	set("updated_at", r.now().UTC())
	args = append(args, refArg)

	query := r.db.Rebind(fmt.Sprintf(`UPDATE subscriptions SET %s WHERE %s RETURNING %s`,
		strings.Join(sets, ", "), where, subscriptionColumns))
	var sub models.Subscription
	if err := r.db.GetContext(ctx, &sub, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	return &sub, nil
}

type dueRow struct {
	models.Subscription
	RunID               sql.NullInt64  `db:"run_id"`
	RunError            sql.NullString `db:"run_error"`
	RunNotificationSent sql.NullBool   `db:"run_notification_sent"`
	RunCreatedAt        sql.NullTime   `db:"run_created_at"`
}

func (d dueRow) active() models.ActiveSubscription {
	active := models.ActiveSubscription{Subscription: d.Subscription}
	if d.RunID.Valid {
		run := &models.Run{
			ID:               d.RunID.Int64,
			SubscriptionID:   d.Subscription.ID,
			NotificationSent: d.RunNotificationSent.Valid && d.RunNotificationSent.Bool,
			CreatedAt:        d.RunCreatedAt.Time,
		}
		if d.RunError.Valid {
			msg := d.RunError.String
			run.Error = &msg
		}
		active.LastRun = run
	}
	return active
}

// ListDue returns enabled, verified subscriptions whose last run is missing
// or older than ttl, joined with that run, least recently checked first. A
// non-positive limit means unbounded.
func (r *SubscriptionRepository) ListDue(ctx context.Context, ttl time.Duration, limit int) ([]models.ActiveSubscription, error) {
	cutoff := r.now().Add(-ttl).UTC()
	query := `SELECT s.id, s.access_key, s.institution_key, s.course_key, s.section_key, s.term_key, s.contact,
       s.enabled, s.verified, s.last_run_id, s.created_at, s.updated_at,
       r.id AS run_id, r.error AS run_error, r.notification_sent AS run_notification_sent, r.created_at AS run_created_at
FROM subscriptions s
LEFT JOIN runs r ON r.id = s.last_run_id
WHERE s.enabled = ? AND s.verified = ? AND (r.id IS NULL OR r.created_at < ?)
ORDER BY r.created_at IS NOT NULL, r.created_at ASC, s.id ASC`
	args := []interface{}{true, true, cutoff}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []dueRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}
	due := make([]models.ActiveSubscription, 0, len(rows))
	for _, row := range rows {
		due = append(due, row.active())
	}
	return due, nil
}

// CreateRunParams describes a run to append to the ledger.
type CreateRunParams struct {
	SubscriptionID   int64
	NotificationSent *bool
	Error            *string
	Snapshot         *string
	// EvaluatedAt, when set, keeps the pointer where it is if the
	// subscription was edited after this time.
	EvaluatedAt time.Time
}

// CreateRun appends a run and moves the owner's last-run pointer to it in one
// transaction. A missing owner rolls the run back. An owner edited after
// params.EvaluatedAt keeps its pointer and the run is stored as history only.
func (r *SubscriptionRepository) CreateRun(ctx context.Context, params CreateRunParams, defaultSubscriptionID int64) (run *models.Run, err error) {
	subscriptionID := params.SubscriptionID
	if subscriptionID == 0 {
		subscriptionID = defaultSubscriptionID
	}
	if subscriptionID == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "run subscription id is required")
	}
	if params.NotificationSent == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "run notificationSent is required")
	}

	run = &models.Run{
		SubscriptionID:   subscriptionID,
		Error:            params.Error,
		Snapshot:         params.Snapshot,
		NotificationSent: *params.NotificationSent,
		CreatedAt:        r.now().UTC(),
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrPersistence, err, "failed to begin run transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	insert := tx.Rebind(`INSERT INTO runs (subscription_id, error, snapshot, notification_sent, created_at)
	VALUES (?, ?, ?, ?, ?) RETURNING id`)
	if err = tx.QueryRowxContext(ctx, insert,
		run.SubscriptionID, run.Error, run.Snapshot, run.NotificationSent, run.CreatedAt,
	).Scan(&run.ID); err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrPersistence, err, "failed to insert run")
	}

	pointer := `UPDATE subscriptions SET last_run_id = ? WHERE id = ?`
	args := []interface{}{run.ID, run.SubscriptionID}
	if !params.EvaluatedAt.IsZero() {
		pointer += ` AND updated_at <= ?`
		args = append(args, params.EvaluatedAt.UTC())
	}
	result, err := tx.ExecContext(ctx, tx.Rebind(pointer), args...)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrPersistence, err, "failed to update last run pointer")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrPersistence, err, "failed to check last run pointer update")
	}
	if affected == 0 {
		var owners int
		if err = tx.GetContext(ctx, &owners, tx.Rebind(`SELECT COUNT(*) FROM subscriptions WHERE id = ?`), run.SubscriptionID); err != nil {
			return nil, appErrors.WrapAs(appErrors.ErrPersistence, err, "failed to look up run owner")
		}
		if owners == 0 {
			err = appErrors.Clone(appErrors.ErrPersistence, fmt.Sprintf("subscription %d missing for run pointer", run.SubscriptionID))
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrPersistence, err, "failed to commit run")
	}
	return run, nil
}

// ListRuns returns the most recent runs of a subscription, newest first.
func (r *SubscriptionRepository) ListRuns(ctx context.Context, subscriptionID int64, limit int) ([]models.Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	query := r.db.Rebind(`SELECT id, subscription_id, error, snapshot, notification_sent, created_at
FROM runs WHERE subscription_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`)
	var runs []models.Run
	if err := r.db.SelectContext(ctx, &runs, query, subscriptionID, limit); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// PruneRuns deletes runs older than retention. Runs still referenced by a
// last-run pointer are kept.
func (r *SubscriptionRepository) PruneRuns(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := r.now().Add(-retention).UTC()
	query := r.db.Rebind(`DELETE FROM runs WHERE created_at < ?
AND id NOT IN (SELECT last_run_id FROM subscriptions WHERE last_run_id IS NOT NULL)`)
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check pruned runs: %w", err)
	}
	return deleted, nil
}

func refCondition(ref models.SubscriptionRef) (string, interface{}, error) {
	if ref.ID != 0 {
		return "id = ?", ref.ID, nil
	}
	if key := strings.TrimSpace(ref.AccessKey); key != "" {
		return "access_key = ?", key, nil
	}
	return "", nil, appErrors.Clone(appErrors.ErrValidation, "subscription id or access key is required")
}

func validateRequired(fields map[string]string) error {
	for _, name := range []string{"institutionKey", "courseKey", "termKey", "contact"} {
		if v, ok := fields[name]; ok && v == "" {
			return appErrors.Clone(appErrors.ErrValidation, name+" is required")
		}
	}
	return nil
}

func normalizeSection(section *string) *string {
	if section == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*section)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE")
	}
	return false
}
