package store

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.io/infrasutra/mailmcp/internal/apperr"
)

// AddEmailRecord inserts a history row stamped by the database clock.
func (s *Store) AddEmailRecord(ctx context.Context, subject, body string) (EmailRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertEmailRecord(ctx, s.db, subject, body)
}

func (s *Store) AddRecipientEmailRecord(ctx context.Context, emailHistoryID, recipientID int64) (RecipientEmailRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return linkEmailRecord(ctx, s.db, emailHistoryID, recipientID)
}

// RecordDelivery writes one history row and links it to every recipient
// in a single transaction.
func (s *Store) RecordDelivery(ctx context.Context, subject, body string, recipientIDs []int64) (EmailRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var record EmailRecord
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		record, err = insertEmailRecord(ctx, tx, subject, body)
		if err != nil {
			return err
		}
		for _, recipientID := range recipientIDs {
			if _, err := linkEmailRecord(ctx, tx, record.ID, recipientID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return EmailRecord{}, err
	}
	return record, nil
}

// ListEmailRecordsByCriteria returns history rows joined with their
// recipient links. At least one filter is required; both combine with AND.
func (s *Store) ListEmailRecordsByCriteria(ctx context.Context, within *TimeRange, recipientID *int64) ([]EmailRecord, error) {
	if within == nil && recipientID == nil {
		return nil, apperr.InvalidArgument("at least one filter must be provided for listing email records")
	}

	var conditions []string
	var args []any
	if within != nil {
		conditions = append(conditions, "h.sent_at >= ? AND h.sent_at <= ?")
		args = append(args, formatTime(within.Start), formatTime(within.End))
	}
	if recipientID != nil {
		conditions = append(conditions, "hr.recipient_id = ?")
		args = append(args, *recipientID)
	}

	query := `SELECT DISTINCT h.id, h.subject, h.body, h.sent_at
        FROM email_history_recipients hr
        JOIN email_history h ON h.id = hr.email_history_id
        WHERE ` + strings.Join(conditions, " AND ") + `
        ORDER BY h.sent_at, h.id;`

	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []emailRecordRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperr.Store(err, "list email records")
	}
	records := make([]EmailRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.model())
	}
	return records, nil
}

// ListEmailRecordRecipients returns every recipient linked to a history
// row, inactive ones included.
func (s *Store) ListEmailRecordRecipients(ctx context.Context, emailHistoryID int64) ([]Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recipients := []Recipient{}
	err := s.db.SelectContext(ctx, &recipients, `SELECT r.id, r.name, r.email, r.status
        FROM email_history_recipients hr
        JOIN recipients r ON r.id = hr.recipient_id
        WHERE hr.email_history_id = ?
        ORDER BY r.id;`, emailHistoryID)
	if err != nil {
		return nil, apperr.Store(err, "list email record recipients")
	}
	return recipients, nil
}

func insertEmailRecord(ctx context.Context, q sqlx.QueryerContext, subject, body string) (EmailRecord, error) {
	var row emailRecordRow
	err := sqlx.GetContext(ctx, q, &row,
		`INSERT INTO email_history (subject, body) VALUES (?, ?) RETURNING id, subject, body, sent_at;`,
		subject, body)
	if err != nil {
		return EmailRecord{}, apperr.Store(err, "insert email record")
	}
	return row.model(), nil
}

func linkEmailRecord(ctx context.Context, e sqlx.ExecerContext, emailHistoryID, recipientID int64) (RecipientEmailRecord, error) {
	_, err := e.ExecContext(ctx,
		`INSERT INTO email_history_recipients (email_history_id, recipient_id) VALUES (?, ?);`,
		emailHistoryID, recipientID)
	if err != nil {
		switch constraintKind(err) {
		case apperr.KindConflict:
			return RecipientEmailRecord{}, apperr.Conflict("email record %d already linked to recipient %d", emailHistoryID, recipientID)
		case apperr.KindNotFound:
			return RecipientEmailRecord{}, apperr.NotFound("email record %d or recipient %d not found", emailHistoryID, recipientID)
		}
		return RecipientEmailRecord{}, apperr.Store(err, "link email record")
	}
	return RecipientEmailRecord{EmailHistoryID: emailHistoryID, RecipientID: recipientID}, nil
}
