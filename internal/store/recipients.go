package store

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.io/infrasutra/mailmcp/internal/apperr"
)

const recipientColumns = `id, name, email, status`

// ListRecipients returns active recipients in primary key order.
func (s *Store) ListRecipients(ctx context.Context) ([]Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recipients := []Recipient{}
	err := s.db.SelectContext(ctx, &recipients,
		`SELECT `+recipientColumns+` FROM recipients WHERE status = ? ORDER BY id;`, string(RecipientActive))
	if err != nil {
		return nil, apperr.Store(err, "list recipients")
	}
	return recipients, nil
}

// FindRecipientByEmail matches email exactly among active recipients.
func (s *Store) FindRecipientByEmail(ctx context.Context, email string) (Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recipient Recipient
	err := s.db.GetContext(ctx, &recipient,
		`SELECT `+recipientColumns+` FROM recipients WHERE email = ? AND status = ?;`, email, string(RecipientActive))
	if err != nil {
		if isNoRows(err) {
			return Recipient{}, apperr.NotFound("recipient with email %q not found", email)
		}
		return Recipient{}, apperr.Store(err, "find recipient by email")
	}
	return recipient, nil
}

// FindRecipientByID resolves a recipient regardless of status, so removed
// recipients referenced by history stay reachable.
func (s *Store) FindRecipientByID(ctx context.Context, id int64) (Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return recipientByID(ctx, s.db, id)
}

// FindAnyRecipientByEmail matches the email whatever the recipient's
// status.
func (s *Store) FindAnyRecipientByEmail(ctx context.Context, email string) (Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recipient Recipient
	err := s.db.GetContext(ctx, &recipient,
		`SELECT `+recipientColumns+` FROM recipients WHERE email = ?;`, email)
	if err != nil {
		if isNoRows(err) {
			return Recipient{}, apperr.NotFound("recipient with email %q not found", email)
		}
		return Recipient{}, apperr.Store(err, "find recipient by email")
	}
	return recipient, nil
}

func (s *Store) NewRecipient(ctx context.Context, name, email string) (Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertRecipient(ctx, s.db, name, email)
}

// UpdateRecipient changes only the fields set in update.
func (s *Store) UpdateRecipient(ctx context.Context, id int64, update RecipientUpdate) (Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sets []string
	var args []any
	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *update.Email)
	}
	if len(sets) == 0 {
		return recipientByID(ctx, s.db, id)
	}
	args = append(args, id)

	var recipient Recipient
	err := s.db.GetContext(ctx, &recipient,
		`UPDATE recipients SET `+strings.Join(sets, ", ")+` WHERE id = ? RETURNING `+recipientColumns+`;`, args...)
	if err != nil {
		if isNoRows(err) {
			return Recipient{}, apperr.NotFound("recipient %d not found", id)
		}
		if constraintKind(err) == apperr.KindConflict && update.Email != nil {
			return Recipient{}, apperr.Conflict("recipient with email %q already exists", *update.Email)
		}
		return Recipient{}, apperr.Store(err, "update recipient")
	}
	return recipient, nil
}

// RemoveRecipient marks the recipient inactive. The row is kept because
// history and attendee rows reference it. Removing an inactive recipient
// is a no-op that returns the row.
func (s *Store) RemoveRecipient(ctx context.Context, id int64) (Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recipient Recipient
	err := s.db.GetContext(ctx, &recipient,
		`UPDATE recipients SET status = ? WHERE id = ? RETURNING `+recipientColumns+`;`, string(RecipientInactive), id)
	if err != nil {
		if isNoRows(err) {
			return Recipient{}, apperr.NotFound("recipient %d not found", id)
		}
		return Recipient{}, apperr.Store(err, "remove recipient")
	}
	return recipient, nil
}

// UpsertRecipients resolves each address to a recipient row, creating rows
// for unknown addresses named after their local part. Existing rows are
// returned as stored, inactive ones included. The result follows the order
// of emails with duplicates dropped.
func (s *Store) UpsertRecipients(ctx context.Context, emails []string) ([]Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recipients []Recipient
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		seen := map[string]struct{}{}
		for _, email := range emails {
			if _, ok := seen[email]; ok {
				continue
			}
			seen[email] = struct{}{}

			var recipient Recipient
			err := tx.GetContext(ctx, &recipient,
				`SELECT `+recipientColumns+` FROM recipients WHERE email = ?;`, email)
			if err != nil && !isNoRows(err) {
				return apperr.Store(err, "find recipient by email")
			}
			if isNoRows(err) {
				recipient, err = insertRecipient(ctx, tx, LocalPart(email), email)
				if err != nil {
					return err
				}
			}
			recipients = append(recipients, recipient)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recipients, nil
}

// LocalPart returns the portion of an address before the last '@'.
func LocalPart(email string) string {
	if at := strings.LastIndex(email, "@"); at >= 0 {
		return email[:at]
	}
	return email
}

func recipientByID(ctx context.Context, q sqlx.QueryerContext, id int64) (Recipient, error) {
	var recipient Recipient
	err := sqlx.GetContext(ctx, q, &recipient,
		`SELECT `+recipientColumns+` FROM recipients WHERE id = ?;`, id)
	if err != nil {
		if isNoRows(err) {
			return Recipient{}, apperr.NotFound("recipient %d not found", id)
		}
		return Recipient{}, apperr.Store(err, "find recipient")
	}
	return recipient, nil
}

func insertRecipient(ctx context.Context, q sqlx.QueryerContext, name, email string) (Recipient, error) {
	var recipient Recipient
	err := sqlx.GetContext(ctx, q, &recipient,
		`INSERT INTO recipients (name, email, status) VALUES (?, ?, ?) RETURNING `+recipientColumns+`;`,
		name, email, string(RecipientActive))
	if err != nil {
		if constraintKind(err) == apperr.KindConflict {
			return Recipient{}, apperr.Conflict("recipient with email %q already exists", email)
		}
		return Recipient{}, apperr.Store(err, "insert recipient")
	}
	return recipient, nil
}
