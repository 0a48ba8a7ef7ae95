package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.io/infrasutra/mailmcp/internal/apperr"
)

func (s *Store) ListGroups(ctx context.Context) ([]Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := []Group{}
	if err := s.db.SelectContext(ctx, &groups, `SELECT id, name FROM groups ORDER BY id;`); err != nil {
		return nil, apperr.Store(err, "list groups")
	}
	return groups, nil
}

func (s *Store) FindGroupByName(ctx context.Context, name string) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var group Group
	err := s.db.GetContext(ctx, &group, `SELECT id, name FROM groups WHERE name = ?;`, name)
	if err != nil {
		if isNoRows(err) {
			return Group{}, apperr.NotFound("group %q not found", name)
		}
		return Group{}, apperr.Store(err, "find group by name")
	}
	return group, nil
}

func (s *Store) NewGroup(ctx context.Context, name string) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var group Group
	err := s.db.GetContext(ctx, &group, `INSERT INTO groups (name) VALUES (?) RETURNING id, name;`, name)
	if err != nil {
		if constraintKind(err) == apperr.KindConflict {
			return Group{}, apperr.Conflict("group %q already exists", name)
		}
		return Group{}, apperr.Store(err, "insert group")
	}
	return group, nil
}

func (s *Store) UpdateGroup(ctx context.Context, id int64, name string) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var group Group
	err := s.db.GetContext(ctx, &group, `UPDATE groups SET name = ? WHERE id = ? RETURNING id, name;`, name, id)
	if err != nil {
		if isNoRows(err) {
			return Group{}, apperr.NotFound("group %d not found", id)
		}
		if constraintKind(err) == apperr.KindConflict {
			return Group{}, apperr.Conflict("group %q already exists", name)
		}
		return Group{}, apperr.Store(err, "update group")
	}
	return group, nil
}

// RemoveGroup deletes the group. Membership rows go with it through the
// cascade; member recipients are untouched.
func (s *Store) RemoveGroup(ctx context.Context, id int64) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var group Group
	err := s.db.GetContext(ctx, &group, `DELETE FROM groups WHERE id = ? RETURNING id, name;`, id)
	if err != nil {
		if isNoRows(err) {
			return Group{}, apperr.NotFound("group %d not found", id)
		}
		return Group{}, apperr.Store(err, "remove group")
	}
	return group, nil
}

func (s *Store) AddRecipientToGroup(ctx context.Context, groupID, recipientID int64) (RecipientGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_recipients (group_id, recipient_id) VALUES (?, ?);`, groupID, recipientID)
	if err != nil {
		switch constraintKind(err) {
		case apperr.KindConflict:
			return RecipientGroup{}, apperr.Conflict("recipient %d is already in group %d", recipientID, groupID)
		case apperr.KindNotFound:
			return RecipientGroup{}, apperr.NotFound("group %d or recipient %d not found", groupID, recipientID)
		}
		return RecipientGroup{}, apperr.Store(err, "add recipient to group")
	}
	return RecipientGroup{GroupID: groupID, RecipientID: recipientID}, nil
}

func (s *Store) RemoveRecipientFromGroup(ctx context.Context, groupID, recipientID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM group_recipients WHERE group_id = ? AND recipient_id = ?;`, groupID, recipientID)
	if err != nil {
		return apperr.Store(err, "remove recipient from group")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperr.Store(err, "remove recipient from group")
	}
	if rows == 0 {
		return apperr.NotFound("recipient %d is not in group %d", recipientID, groupID)
	}
	return nil
}

// ListRecipientsInGroup returns the active members of a group and fails
// with NotFound when the group does not exist.
func (s *Store) ListRecipientsInGroup(ctx context.Context, groupID int64) ([]Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM groups WHERE id = ?);`, groupID); err != nil {
		return nil, apperr.Store(err, "find group")
	}
	if !exists {
		return nil, apperr.NotFound("group %d not found", groupID)
	}
	return groupMembers(ctx, s.db, groupID)
}

// FindRecipientsByGroupID returns the active members of a group without
// checking that the group exists; an unknown group yields an empty list.
func (s *Store) FindRecipientsByGroupID(ctx context.Context, groupID int64) ([]Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return groupMembers(ctx, s.db, groupID)
}

func groupMembers(ctx context.Context, q sqlx.QueryerContext, groupID int64) ([]Recipient, error) {
	recipients := []Recipient{}
	err := sqlx.SelectContext(ctx, q, &recipients, `SELECT r.id, r.name, r.email, r.status
        FROM group_recipients gr
        JOIN recipients r ON r.id = gr.recipient_id
        WHERE gr.group_id = ? AND r.status = ?
        ORDER BY r.id;`, groupID, string(RecipientActive))
	if err != nil {
		return nil, apperr.Store(err, "list group members")
	}
	return recipients, nil
}
