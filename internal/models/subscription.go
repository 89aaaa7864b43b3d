package models

import (
	"strings"
	"time"
)

// Subscription is a standing request to be alerted when a course section has
// an open seat.
type Subscription struct {
	ID             int64     `db:"id" json:"id"`
	AccessKey      string    `db:"access_key" json:"accessKey"`
	InstitutionKey string    `db:"institution_key" json:"institutionKey"`
	CourseKey      string    `db:"course_key" json:"courseKey"`
	SectionKey     *string   `db:"section_key" json:"sectionKey,omitempty"`
	TermKey        string    `db:"term_key" json:"termKey"`
	Contact        string    `db:"contact" json:"contact"`
	Enabled        bool      `db:"enabled" json:"enabled"`
	Verified       bool      `db:"verified" json:"verified"`
	LastRunID      *int64    `db:"last_run_id" json:"lastRunId,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// Section returns the trimmed section criterion, or "" when any section matches.
func (s Subscription) Section() string {
	if s.SectionKey == nil {
		return ""
	}
	return strings.TrimSpace(*s.SectionKey)
}

// Group is the dedup key used to batch external lookups.
func (s Subscription) Group() CourseGroup {
	return CourseGroup{Institution: s.InstitutionKey, Course: s.CourseKey, Term: s.TermKey}
}

// SubscriptionCriteria holds the fields required to create a subscription.
type SubscriptionCriteria struct {
	InstitutionKey string
	CourseKey      string
	SectionKey     *string
	TermKey        string
}

// SubscriptionPatch carries the fields an update should set. Nil fields are
// left untouched; a SectionKey pointing at "" clears the criterion.
type SubscriptionPatch struct {
	InstitutionKey *string
	CourseKey      *string
	SectionKey     *string
	TermKey        *string
	Contact        *string
	Enabled        *bool
	Verified       *bool
}

// Empty reports whether the patch sets nothing.
func (p SubscriptionPatch) Empty() bool {
	return p.InstitutionKey == nil && p.CourseKey == nil && p.SectionKey == nil &&
		p.TermKey == nil && p.Contact == nil && p.Enabled == nil && p.Verified == nil
}

// SubscriptionRef identifies a subscription by internal id or access key.
// ID wins when both are set.
type SubscriptionRef struct {
	ID        int64
	AccessKey string
}

// ActiveSubscription joins a due subscription with its latest run. It only
// lives for the duration of one check cycle.
type ActiveSubscription struct {
	Subscription Subscription
	LastRun      *Run
}

// PreviouslyNotified reports whether the latest run recorded a sent alert.
func (a ActiveSubscription) PreviouslyNotified() bool {
	return a.LastRun != nil && a.LastRun.NotificationSent
}
