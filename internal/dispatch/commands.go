package dispatch

import (
	"context"
	"encoding/json"
	"strings"

	"github.io/infrasutra/mailmcp/internal/apperr"
	"github.io/infrasutra/mailmcp/internal/store"
)

// Management commands are closed sets of variants selected by an
// "action" field. Each family has a sealed interface and a decoder; the
// Manage* methods switch over every variant.

const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionUpdate = "update"
)

// GroupCommand is one of AddGroup, RemoveGroup or UpdateGroup.
type GroupCommand interface{ groupCommand() }

type AddGroup struct {
	Name string `json:"name"`
}

// RemoveGroup identifies the group by ID, or by Name when ID is zero.
type RemoveGroup struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type UpdateGroup struct {
	ID      int64  `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	NewName string `json:"new_name"`
}

func (AddGroup) groupCommand()    {}
func (RemoveGroup) groupCommand() {}
func (UpdateGroup) groupCommand() {}

// RecipientCommand is one of AddRecipient, RemoveRecipient or
// UpdateRecipient.
type RecipientCommand interface{ recipientCommand() }

// AddRecipient names the recipient after its local part when Name is empty.
type AddRecipient struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// RemoveRecipient identifies the recipient by ID, or by active Email when
// ID is zero.
type RemoveRecipient struct {
	ID    int64  `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
}

type UpdateRecipient struct {
	ID       int64   `json:"id,omitempty"`
	Email    string  `json:"email,omitempty"`
	NewName  *string `json:"new_name,omitempty"`
	NewEmail *string `json:"new_email,omitempty"`
}

func (AddRecipient) recipientCommand()    {}
func (RemoveRecipient) recipientCommand() {}
func (UpdateRecipient) recipientCommand() {}

// TemplateCommand is one of AddTemplate, RemoveTemplate or UpdateTemplate.
type TemplateCommand interface{ templateCommand() }

type AddTemplate struct {
	Name         string `json:"name"`
	FormatString string `json:"format_string"`
}

type RemoveTemplate struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type UpdateTemplate struct {
	ID           int64   `json:"id,omitempty"`
	Name         string  `json:"name,omitempty"`
	NewName      *string `json:"new_name,omitempty"`
	FormatString *string `json:"format_string,omitempty"`
}

func (AddTemplate) templateCommand()    {}
func (RemoveTemplate) templateCommand() {}
func (UpdateTemplate) templateCommand() {}

func decodeAction(raw json.RawMessage) (string, error) {
	var head struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", apperr.InvalidArgument("invalid arguments: %v", err)
	}
	return strings.ToLower(strings.TrimSpace(head.Action)), nil
}

func decodeVariant[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, apperr.InvalidArgument("invalid arguments: %v", err)
	}
	return v, nil
}

func DecodeGroupCommand(raw json.RawMessage) (GroupCommand, error) {
	action, err := decodeAction(raw)
	if err != nil {
		return nil, err
	}
	switch action {
	case ActionAdd:
		return decodeVariant[AddGroup](raw)
	case ActionRemove:
		return decodeVariant[RemoveGroup](raw)
	case ActionUpdate:
		return decodeVariant[UpdateGroup](raw)
	}
	return nil, apperr.InvalidArgument("unknown action %q, expected add, remove or update", action)
}

func DecodeRecipientCommand(raw json.RawMessage) (RecipientCommand, error) {
	action, err := decodeAction(raw)
	if err != nil {
		return nil, err
	}
	switch action {
	case ActionAdd:
		return decodeVariant[AddRecipient](raw)
	case ActionRemove:
		return decodeVariant[RemoveRecipient](raw)
	case ActionUpdate:
		return decodeVariant[UpdateRecipient](raw)
	}
	return nil, apperr.InvalidArgument("unknown action %q, expected add, remove or update", action)
}

func DecodeTemplateCommand(raw json.RawMessage) (TemplateCommand, error) {
	action, err := decodeAction(raw)
	if err != nil {
		return nil, err
	}
	switch action {
	case ActionAdd:
		return decodeVariant[AddTemplate](raw)
	case ActionRemove:
		return decodeVariant[RemoveTemplate](raw)
	case ActionUpdate:
		return decodeVariant[UpdateTemplate](raw)
	}
	return nil, apperr.InvalidArgument("unknown action %q, expected add, remove or update", action)
}

type GroupResult struct {
	Action string      `json:"action"`
	Group  store.Group `json:"group"`
}

type RecipientResult struct {
	Action    string          `json:"action"`
	Recipient store.Recipient `json:"recipient"`
}

type TemplateResult struct {
	Action   string         `json:"action"`
	Template store.Template `json:"template"`
}

func (s *Service) ManageGroup(ctx context.Context, cmd GroupCommand) (GroupResult, error) {
	switch c := cmd.(type) {
	case AddGroup:
		name, err := required("name", c.Name)
		if err != nil {
			return GroupResult{}, err
		}
		group, err := s.store.NewGroup(ctx, name)
		return GroupResult{Action: ActionAdd, Group: group}, err
	case RemoveGroup:
		id, err := s.groupID(ctx, c.ID, c.Name)
		if err != nil {
			return GroupResult{}, err
		}
		group, err := s.store.RemoveGroup(ctx, id)
		return GroupResult{Action: ActionRemove, Group: group}, err
	case UpdateGroup:
		newName, err := required("new_name", c.NewName)
		if err != nil {
			return GroupResult{}, err
		}
		id, err := s.groupID(ctx, c.ID, c.Name)
		if err != nil {
			return GroupResult{}, err
		}
		group, err := s.store.UpdateGroup(ctx, id, newName)
		return GroupResult{Action: ActionUpdate, Group: group}, err
	case nil:
		return GroupResult{}, apperr.InvalidArgument("missing group command")
	}
	return GroupResult{}, apperr.InvalidArgument("unsupported group command %T", cmd)
}

func (s *Service) ManageRecipient(ctx context.Context, cmd RecipientCommand) (RecipientResult, error) {
	switch c := cmd.(type) {
	case AddRecipient:
		email, err := required("email", c.Email)
		if err != nil {
			return RecipientResult{}, err
		}
		if email, err = normalizeAddress(email); err != nil {
			return RecipientResult{}, err
		}
		name := strings.TrimSpace(c.Name)
		if name == "" {
			name = store.LocalPart(email)
		}
		recipient, err := s.store.NewRecipient(ctx, name, email)
		return RecipientResult{Action: ActionAdd, Recipient: recipient}, err
	case RemoveRecipient:
		id, err := s.removableRecipientID(ctx, c.ID, c.Email)
		if err != nil {
			return RecipientResult{}, err
		}
		recipient, err := s.store.RemoveRecipient(ctx, id)
		return RecipientResult{Action: ActionRemove, Recipient: recipient}, err
	case UpdateRecipient:
		if c.NewName == nil && c.NewEmail == nil {
			return RecipientResult{}, apperr.InvalidArgument("new_name or new_email is required")
		}
		if c.NewEmail != nil {
			email, err := normalizeAddress(*c.NewEmail)
			if err != nil {
				return RecipientResult{}, err
			}
			c.NewEmail = &email
		}
		id, err := s.recipientID(ctx, c.ID, c.Email)
		if err != nil {
			return RecipientResult{}, err
		}
		recipient, err := s.store.UpdateRecipient(ctx, id, store.RecipientUpdate{Name: c.NewName, Email: c.NewEmail})
		return RecipientResult{Action: ActionUpdate, Recipient: recipient}, err
	case nil:
		return RecipientResult{}, apperr.InvalidArgument("missing recipient command")
	}
	return RecipientResult{}, apperr.InvalidArgument("unsupported recipient command %T", cmd)
}

func (s *Service) ManageTemplate(ctx context.Context, cmd TemplateCommand) (TemplateResult, error) {
	switch c := cmd.(type) {
	case AddTemplate:
		name, err := required("name", c.Name)
		if err != nil {
			return TemplateResult{}, err
		}
		template, err := s.store.NewTemplate(ctx, name, c.FormatString)
		return TemplateResult{Action: ActionAdd, Template: template}, err
	case RemoveTemplate:
		id, err := s.templateID(ctx, c.ID, c.Name)
		if err != nil {
			return TemplateResult{}, err
		}
		template, err := s.store.RemoveTemplate(ctx, id)
		return TemplateResult{Action: ActionRemove, Template: template}, err
	case UpdateTemplate:
		if c.NewName == nil && c.FormatString == nil {
			return TemplateResult{}, apperr.InvalidArgument("new_name or format_string is required")
		}
		id, err := s.templateID(ctx, c.ID, c.Name)
		if err != nil {
			return TemplateResult{}, err
		}
		template, err := s.store.UpdateTemplate(ctx, id, store.TemplateUpdate{Name: c.NewName, FormatString: c.FormatString})
		return TemplateResult{Action: ActionUpdate, Template: template}, err
	case nil:
		return TemplateResult{}, apperr.InvalidArgument("missing template command")
	}
	return TemplateResult{}, apperr.InvalidArgument("unsupported template command %T", cmd)
}

func (s *Service) groupID(ctx context.Context, id int64, name string) (int64, error) {
	if id != 0 {
		return id, nil
	}
	name, err := required("id or name", name)
	if err != nil {
		return 0, err
	}
	group, err := s.store.FindGroupByName(ctx, name)
	if err != nil {
		return 0, err
	}
	return group.ID, nil
}

func (s *Service) recipientID(ctx context.Context, id int64, email string) (int64, error) {
	if id != 0 {
		return id, nil
	}
	email, err := required("id or email", email)
	if err != nil {
		return 0, err
	}
	recipient, err := s.store.FindRecipientByEmail(ctx, email)
	if err != nil {
		return 0, err
	}
	return recipient.ID, nil
}

// removableRecipientID also matches inactive recipients, so removing an
// address twice succeeds by email as it does by id.
func (s *Service) removableRecipientID(ctx context.Context, id int64, email string) (int64, error) {
	if id != 0 {
		return id, nil
	}
	email, err := required("id or email", email)
	if err != nil {
		return 0, err
	}
	recipient, err := s.store.FindAnyRecipientByEmail(ctx, email)
	if err != nil {
		return 0, err
	}
	return recipient.ID, nil
}

func (s *Service) templateID(ctx context.Context, id int64, name string) (int64, error) {
	if id != 0 {
		return id, nil
	}
	name, err := required("id or name", name)
	if err != nil {
		return 0, err
	}
	template, err := s.store.FindTemplateByName(ctx, name)
	if err != nil {
		return 0, err
	}
	return template.ID, nil
}

func required(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", apperr.InvalidArgument("%s is required", field)
	}
	return value, nil
}
