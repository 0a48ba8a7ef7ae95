package store

import "time"

type RecipientStatus string

const (
	RecipientActive   RecipientStatus = "Active"
	RecipientInactive RecipientStatus = "Inactive"
)

type Recipient struct {
	ID     int64           `db:"id" json:"id"`
	Name   string          `db:"name" json:"name"`
	Email  string          `db:"email" json:"email"`
	Status RecipientStatus `db:"status" json:"status"`
}

// RecipientUpdate carries a partial update; nil fields are left unchanged.
type RecipientUpdate struct {
	Name  *string
	Email *string
}

type Group struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

type RecipientGroup struct {
	GroupID     int64 `db:"group_id" json:"group_id"`
	RecipientID int64 `db:"recipient_id" json:"recipient_id"`
}

type Template struct {
	ID           int64  `db:"id" json:"id"`
	Name         string `db:"name" json:"name"`
	FormatString string `db:"format_string" json:"format_string"`
}

type TemplateUpdate struct {
	Name         *string
	FormatString *string
}

// EmailRecord is one sent message. Rows are never updated.
type EmailRecord struct {
	ID      int64     `json:"id"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

type RecipientEmailRecord struct {
	EmailHistoryID int64 `db:"email_history_id" json:"email_history_id"`
	RecipientID    int64 `db:"recipient_id" json:"recipient_id"`
}

// TimeRange is an inclusive [Start, End] interval.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

type Event struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	IsAllDay    bool       `json:"is_all_day"`
}

type NewEvent struct {
	Title       string
	Description *string
	StartTime   time.Time
	EndTime     *time.Time
	IsAllDay    bool
}

type InvitationType string

const (
	InvitationRequired InvitationType = "Required"
	InvitationOptional InvitationType = "Optional"
)

type EventAttendee struct {
	ID             int64          `db:"id" json:"id"`
	EventID        int64          `db:"event_id" json:"event_id"`
	RecipientID    int64          `db:"recipient_id" json:"recipient_id"`
	InvitationType InvitationType `db:"invitation_type" json:"invitation_type"`
}

// Invitee pairs a recipient with the invitation type it receives.
type Invitee struct {
	RecipientID    int64
	InvitationType InvitationType
}

type emailRecordRow struct {
	ID      int64     `db:"id"`
	Subject string    `db:"subject"`
	Body    string    `db:"body"`
	SentAt  timestamp `db:"sent_at"`
}

func (r emailRecordRow) model() EmailRecord {
	return EmailRecord{ID: r.ID, Subject: r.Subject, Body: r.Body, SentAt: r.SentAt.Time}
}

type eventRow struct {
	ID          int64     `db:"id"`
	Title       string    `db:"title"`
	Description *string   `db:"description"`
	StartTime   timestamp `db:"start_time"`
	EndTime     timestamp `db:"end_time"`
	IsAllDay    bool      `db:"is_all_day"`
}

func (r eventRow) model() Event {
	return Event{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		StartTime:   r.StartTime.Time,
		EndTime:     r.EndTime.ptr(),
		IsAllDay:    r.IsAllDay,
	}
}
