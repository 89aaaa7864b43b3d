package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/seatwatch/internal/models"
	appErrors "github.com/noah-isme/seatwatch/pkg/errors"
)

var subscriptionRowColumns = []string{"id", "access_key", "institution_key", "course_key", "section_key", "term_key", "contact", "enabled", "verified", "last_run_id", "created_at", "updated_at"}

func newSubscriptionRepoMock(t *testing.T, opts ...SubscriptionRepositoryOption) (*SubscriptionRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	return NewSubscriptionRepository(sqlxDB, opts...), mock, func() {
		sqlxDB.Close()
		db.Close()
	}
}

func keySequence(keys ...string) func() string {
	i := 0
	return func() string {
		key := keys[i%len(keys)]
		i++
		return key
	}
}

func strPtrOf(s string) *string { return &s }

func boolPtrOf(b bool) *bool { return &b }

func TestSubscriptionRepositoryCreateSkipsTakenKey(t *testing.T) {
	repo, mock, cleanup := newSubscriptionRepoMock(t, WithAccessKeyGenerator(keySequence("taken001", "fresh002")))
	defer cleanup()

	mock.ExpectQuery("SELECT EXISTS").WithArgs("taken001").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("fresh002").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("INSERT INTO subscriptions").
		WithArgs("fresh002", "uni", "CS101", nil, "2024FA", "+15551234567", true, false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	sub, err := repo.Create(context.Background(), models.SubscriptionCriteria{
		InstitutionKey: "uni",
		CourseKey:      "CS101",
		SectionKey:     strPtrOf("  "),
		TermKey:        "2024FA",
	}, "+15551234567", true)
	require.NoError(t, err)
	assert.Equal(t, int64(7), sub.ID)
	assert.Equal(t, "fresh002", sub.AccessKey)
	assert.Nil(t, sub.SectionKey)
	assert.False(t, sub.Verified)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepositoryCreateRetriesOnUniqueViolation(t *testing.T) {
	repo, mock, cleanup := newSubscriptionRepoMock(t, WithAccessKeyGenerator(keySequence("race0001", "race0002")))
	defer cleanup()

	mock.ExpectQuery("SELECT EXISTS").WithArgs("race0001").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("INSERT INTO subscriptions").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectQuery("SELECT EXISTS").WithArgs("race0002").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("INSERT INTO subscriptions").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(8)))

	sub, err := repo.Create(context.Background(), models.SubscriptionCriteria{
		InstitutionKey: "uni", CourseKey: "CS101", TermKey: "2024FA",
	}, "+15551234567", true)
	require.NoError(t, err)
	assert.Equal(t, "race0002", sub.AccessKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepositoryCreateGivesUpAfterMaxAttempts(t *testing.T) {
	repo, mock, cleanup := newSubscriptionRepoMock(t, WithAccessKeyGenerator(keySequence("always01")))
	defer cleanup()

	for i := 0; i < defaultAccessKeyAttempts; i++ {
		mock.ExpectQuery("SELECT EXISTS").WithArgs("always01").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	}

	_, err := repo.Create(context.Background(), models.SubscriptionCriteria{
		InstitutionKey: "uni", CourseKey: "CS101", TermKey: "2024FA",
	}, "+15551234567", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrPersistence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepositoryCreateRequiresFields(t *testing.T) {
	repo, mock, cleanup := newSubscriptionRepoMock(t)
	defer cleanup()

	_, err := repo.Create(context.Background(), models.SubscriptionCriteria{
		InstitutionKey: "uni", CourseKey: "CS101", TermKey: "2024FA",
	}, "   ", true)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepositoryUpdateContactResetsVerificationAndPointer(t *testing.T) {
	repo, mock, cleanup := newSubscriptionRepoMock(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows(subscriptionRowColumns).
		AddRow(int64(3), "abcd1234", "uni", "CS101", nil, "2024FA", "+15550000000", true, false, nil, now, now)
	mock.ExpectQuery(`UPDATE subscriptions SET verified = CASE WHEN contact = \$1 THEN verified ELSE FALSE END, contact = \$2, last_run_id = NULL, updated_at = \$3 WHERE access_key = \$4 RETURNING`).
		WithArgs("+15550000000", "+15550000000", sqlmock.AnyArg(), "abcd1234").
		WillReturnRows(rows)

	sub, err := repo.Update(context.Background(), models.SubscriptionRef{AccessKey: "abcd1234"}, models.SubscriptionPatch{
		Contact: strPtrOf(" +15550000000 "),
	})
	require.NoError(t, err)
	assert.Equal(t, "+15550000000", sub.Contact)
	assert.False(t, sub.Verified)
	assert.Nil(t, sub.LastRunID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepositoryUpdateExplicitVerifiedWins(t *testing.T) {
	repo, mock, cleanup := newSubscriptionRepoMock(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows(subscriptionRowColumns).
		AddRow(int64(3), "abcd1234", "uni", "CS101", "002", "2024FA", "+15550000000", true, true, nil, now, now)
	mock.ExpectQuery(`UPDATE subscriptions SET section_key = \$1, verified = \$2, contact = \$3, last_run_id = NULL`).
		WithArgs("002", true, "+15550000000", sqlmock.AnyArg(), int64(3)).
		WillReturnRows(rows)

	sub, err := repo.Update(context.Background(), models.SubscriptionRef{ID: 3}, models.SubscriptionPatch{
		SectionKey: strPtrOf("002"),
		Contact:    strPtrOf("+15550000000"),
		Verified:   boolPtrOf(true),
	})
	require.NoError(t, err)
	assert.True(t, sub.Verified)
	assert.Equal(t, "002", sub.Section())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepositoryUpdateNoMatch(t *testing.T) {
	repo, mock, cleanup := newSubscriptionRepoMock(t)
	defer cleanup()

	mock.ExpectQuery("UPDATE subscriptions SET enabled").
		WillReturnRows(sqlmock.NewRows(subscriptionRowColumns))

	_, err := repo.Update(context.Background(), models.SubscriptionRef{AccessKey: "missing1"}, models.SubscriptionPatch{
		Enabled: boolPtrOf(false),
	})
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepositoryUpdateRequiresRef(t *testing.T) {
	repo, _, cleanup := newSubscriptionRepoMock(t)
	defer cleanup()

	_, err := repo.Update(context.Background(), models.SubscriptionRef{}, models.SubscriptionPatch{Enabled: boolPtrOf(true)})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestSubscriptionRepositoryListDue(t *testing.T) {
	repo, mock, cleanup := newSubscriptionRepoMock(t)
	defer cleanup()

	now := time.Now()
	columns := append(append([]string{}, subscriptionRowColumns...), "run_id", "run_error", "run_notification_sent", "run_created_at")
	rows := sqlmock.NewRows(columns).
		AddRow(int64(1), "key00001", "uni", "CS101", nil, "2024FA", "+15550000001", true, true, nil, now, now, nil, nil, nil, nil).
		AddRow(int64(2), "key00002", "uni", "CS101", "001", "2024FA", "+15550000002", true, true, int64(9), now, now, int64(9), nil, true, now.Add(-time.Hour))
	mock.ExpectQuery(`SELECT s.id, s.access_key`).
		WithArgs(true, true, sqlmock.AnyArg(), 50).
		WillReturnRows(rows)

	due, err := repo.ListDue(context.Background(), 5*time.Minute, 50)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Nil(t, due[0].LastRun)
	assert.False(t, due[0].PreviouslyNotified())
	require.NotNil(t, due[1].LastRun)
	assert.Equal(t, int64(9), due[1].LastRun.ID)
	assert.True(t, due[1].PreviouslyNotified())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepositoryCreateRunMovesPointer(t *testing.T) {
	repo, mock, cleanup := newSubscriptionRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO runs").
		WithArgs(int64(3), nil, sqlmock.AnyArg(), true, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectExec("UPDATE subscriptions SET last_run_id").
		WithArgs(int64(11), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	run, err := repo.CreateRun(context.Background(), CreateRunParams{
		NotificationSent: boolPtrOf(true),
		Snapshot:         strPtrOf(`{"sections":[]}`),
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(11), run.ID)
	assert.Equal(t, int64(3), run.SubscriptionID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepositoryCreateRunRollsBackWithoutOwner(t *testing.T) {
	repo, mock, cleanup := newSubscriptionRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO runs").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))
	mock.ExpectExec("UPDATE subscriptions SET last_run_id").
		WithArgs(int64(12), int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM subscriptions WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectRollback()

	_, err := repo.CreateRun(context.Background(), CreateRunParams{
		SubscriptionID:   99,
		NotificationSent: boolPtrOf(false),
	}, 0)
	assert.ErrorIs(t, err, appErrors.ErrPersistence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepositoryCreateRunValidation(t *testing.T) {
	repo, _, cleanup := newSubscriptionRepoMock(t)
	defer cleanup()

	_, err := repo.CreateRun(context.Background(), CreateRunParams{NotificationSent: boolPtrOf(false)}, 0)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = repo.CreateRun(context.Background(), CreateRunParams{SubscriptionID: 1}, 0)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestSubscriptionRepositoryPruneRuns(t *testing.T) {
	repo, mock, cleanup := newSubscriptionRepoMock(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM runs WHERE created_at").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))

	deleted, err := repo.PruneRuns(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)

	deleted, err = repo.PruneRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewAccessKeyShape(t *testing.T) {
	key := NewAccessKey()
	assert.Len(t, key, 8)
	assert.Regexp(t, `^[a-z2-7]{8}$`, key)
}
