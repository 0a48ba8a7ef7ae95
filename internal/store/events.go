package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.io/infrasutra/mailmcp/internal/apperr"
)

const eventColumns = `id, title, description, start_time, end_time, is_all_day`

func (s *Store) AddEvent(ctx context.Context, event NewEvent) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var description, endTime any
	if event.Description != nil {
		description = *event.Description
	}
	if event.EndTime != nil {
		endTime = formatTime(*event.EndTime)
	}
	var row eventRow
	err := s.db.GetContext(ctx, &row, `INSERT INTO events (title, description, start_time, end_time, is_all_day)
        VALUES (?, ?, ?, ?, ?) RETURNING `+eventColumns+`;`,
		event.Title, description, formatTime(event.StartTime), endTime, event.IsAllDay)
	if err != nil {
		return Event{}, apperr.Store(err, "insert event")
	}
	return row.model(), nil
}

func (s *Store) FindEventByID(ctx context.Context, id int64) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row eventRow
	err := s.db.GetContext(ctx, &row, `SELECT `+eventColumns+` FROM events WHERE id = ?;`, id)
	if err != nil {
		if isNoRows(err) {
			return Event{}, apperr.NotFound("event %d not found", id)
		}
		return Event{}, apperr.Store(err, "find event")
	}
	return row.model(), nil
}

// ListEvents returns events starting at or after from. A nil to means no
// upper bound.
func (s *Store) ListEvents(ctx context.Context, from time.Time, to *time.Time) ([]Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE start_time >= ?`
	args := []any{formatTime(from)}
	if to != nil {
		query += ` AND start_time <= ?`
		args = append(args, formatTime(*to))
	}
	query += ` ORDER BY start_time, id;`

	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperr.Store(err, "list events")
	}
	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.model())
	}
	return events, nil
}

// RemoveEvent deletes the event; attendee rows cascade.
func (s *Store) RemoveEvent(ctx context.Context, id int64) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row eventRow
	err := s.db.GetContext(ctx, &row, `DELETE FROM events WHERE id = ? RETURNING `+eventColumns+`;`, id)
	if err != nil {
		if isNoRows(err) {
			return Event{}, apperr.NotFound("event %d not found", id)
		}
		return Event{}, apperr.Store(err, "remove event")
	}
	return row.model(), nil
}

func (s *Store) AddEventAttendee(ctx context.Context, eventID, recipientID int64, invitationType InvitationType) (EventAttendee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertAttendee(ctx, s.db, eventID, recipientID, invitationType)
}

// AddEventAttendees inserts one attendee row per invitee in a single
// transaction.
func (s *Store) AddEventAttendees(ctx context.Context, eventID int64, invitees []Invitee) ([]EventAttendee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attendees := make([]EventAttendee, 0, len(invitees))
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, invitee := range invitees {
			attendee, err := insertAttendee(ctx, tx, eventID, invitee.RecipientID, invitee.InvitationType)
			if err != nil {
				return err
			}
			attendees = append(attendees, attendee)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attendees, nil
}

// ListEventAttendees returns the attendees of an event, empty when the
// event does not exist.
func (s *Store) ListEventAttendees(ctx context.Context, eventID int64) ([]EventAttendee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attendees := []EventAttendee{}
	err := s.db.SelectContext(ctx, &attendees, `SELECT id, event_id, recipient_id, invitation_type
        FROM event_attendees WHERE event_id = ? ORDER BY id;`, eventID)
	if err != nil {
		return nil, apperr.Store(err, "list event attendees")
	}
	return attendees, nil
}

func insertAttendee(ctx context.Context, q sqlx.QueryerContext, eventID, recipientID int64, invitationType InvitationType) (EventAttendee, error) {
	switch invitationType {
	case InvitationRequired, InvitationOptional:
	default:
		return EventAttendee{}, apperr.InvalidArgument("invalid invitation type %q", invitationType)
	}

	var attendee EventAttendee
	err := sqlx.GetContext(ctx, q, &attendee, `INSERT INTO event_attendees (event_id, recipient_id, invitation_type)
        VALUES (?, ?, ?) RETURNING id, event_id, recipient_id, invitation_type;`,
		eventID, recipientID, string(invitationType))
	if err != nil {
		if constraintKind(err) == apperr.KindNotFound {
			return EventAttendee{}, apperr.NotFound("event %d or recipient %d not found", eventID, recipientID)
		}
		return EventAttendee{}, apperr.Store(err, "insert event attendee")
	}
	return attendee, nil
}
