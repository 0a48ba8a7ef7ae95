package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.io/infrasutra/mailmcp/internal/apperr"
	"github.io/infrasutra/mailmcp/internal/mailer"
	"github.io/infrasutra/mailmcp/internal/render"
	"github.io/infrasutra/mailmcp/internal/store"
)

type SendEmailRequest struct {
	From    string   `json:"from,omitempty"`
	To      []string `json:"to"`
	ReplyTo string   `json:"reply_to,omitempty"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

type SendToGroupRequest struct {
	From      string `json:"from,omitempty"`
	GroupName string `json:"group_name"`
	ReplyTo   string `json:"reply_to,omitempty"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

type SendTemplateRequest struct {
	From         string            `json:"from,omitempty"`
	To           []string          `json:"to"`
	ReplyTo      string            `json:"reply_to,omitempty"`
	Subject      string            `json:"subject"`
	TemplateName string            `json:"template_name"`
	Data         map[string]string `json:"data,omitempty"`
}

// GroupTarget invites every active member of a group.
type GroupTarget struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

// RecipientTarget invites one address.
type RecipientTarget struct {
	Email    string `json:"email"`
	Required bool   `json:"required"`
}

type EventInvitationRequest struct {
	From       string            `json:"from,omitempty"`
	EventID    int64             `json:"event_id"`
	ReplyTo    string            `json:"reply_to,omitempty"`
	Subject    string            `json:"subject,omitempty"`
	Body       string            `json:"body,omitempty"`
	Groups     []GroupTarget     `json:"groups,omitempty"`
	Recipients []RecipientTarget `json:"recipients,omitempty"`
}

func (s *Service) SendEmail(ctx context.Context, req SendEmailRequest) (Delivery, error) {
	if len(req.To) == 0 {
		return Delivery{}, apperr.InvalidArgument("at least one recipient is required")
	}
	return s.run(ctx, WorkflowSendEmail, mailer.Request{
		From:    req.From,
		To:      req.To,
		ReplyTo: req.ReplyTo,
		Subject: req.Subject,
		Body:    req.Body,
	}, nil)
}

// SendToGroup delivers one message addressed to every active member of
// the named group.
func (s *Service) SendToGroup(ctx context.Context, req SendToGroupRequest) (Delivery, error) {
	group, err := s.store.FindGroupByName(ctx, req.GroupName)
	if err != nil {
		return Delivery{}, err
	}
	members, err := s.store.ListRecipientsInGroup(ctx, group.ID)
	if err != nil {
		return Delivery{}, err
	}
	if len(members) == 0 {
		return Delivery{}, apperr.InvalidArgument("group %q has no active members", group.Name)
	}
	to := make([]string, 0, len(members))
	for _, member := range members {
		to = append(to, member.Email)
	}
	return s.run(ctx, WorkflowSendToGroup, mailer.Request{
		From:    req.From,
		To:      to,
		ReplyTo: req.ReplyTo,
		Subject: req.Subject,
		Body:    req.Body,
	}, nil)
}

// SendTemplate renders the named template with req.Data and delivers the
// result as the body.
func (s *Service) SendTemplate(ctx context.Context, req SendTemplateRequest) (Delivery, error) {
	if len(req.To) == 0 {
		return Delivery{}, apperr.InvalidArgument("at least one recipient is required")
	}
	template, err := s.store.FindTemplateByName(ctx, req.TemplateName)
	if err != nil {
		return Delivery{}, err
	}
	body, err := render.Render(template.FormatString, req.Data)
	if err != nil {
		return Delivery{}, err
	}
	return s.run(ctx, WorkflowSendTemplate, mailer.Request{
		From:    req.From,
		To:      req.To,
		ReplyTo: req.ReplyTo,
		Subject: req.Subject,
		Body:    body,
	}, nil)
}

// SendEventInvitation expands group and individual targets into one
// message, then records an attendee row per invited recipient. A recipient
// named by several targets is invited once, as Required if any target
// requires it. Recipients already attending keep their existing row.
func (s *Service) SendEventInvitation(ctx context.Context, req EventInvitationRequest) (Delivery, error) {
	if len(req.Groups) == 0 && len(req.Recipients) == 0 {
		return Delivery{}, apperr.InvalidArgument("at least one group or recipient must be invited")
	}
	event, err := s.store.FindEventByID(ctx, req.EventID)
	if err != nil {
		return Delivery{}, err
	}

	var to []string
	kinds := map[string]store.InvitationType{}
	invite := func(email string, required bool) {
		kind := store.InvitationOptional
		if required {
			kind = store.InvitationRequired
		}
		existing, seen := kinds[email]
		if !seen {
			to = append(to, email)
		}
		if !seen || existing == store.InvitationOptional {
			kinds[email] = kind
		}
	}

	for _, target := range req.Groups {
		group, err := s.store.FindGroupByName(ctx, target.Name)
		if err != nil {
			return Delivery{}, err
		}
		members, err := s.store.ListRecipientsInGroup(ctx, group.ID)
		if err != nil {
			return Delivery{}, err
		}
		for _, member := range members {
			invite(member.Email, target.Required)
		}
	}
	for _, target := range req.Recipients {
		invite(strings.TrimSpace(target.Email), target.Required)
	}
	if len(to) == 0 {
		return Delivery{}, apperr.InvalidArgument("invited groups have no active members")
	}

	subject := req.Subject
	if subject == "" {
		subject = "Invitation: " + event.Title
	}
	body := req.Body
	if body == "" {
		body = invitationBody(event)
	}

	// The mailer keeps envelope order, so the i-th delivered address
	// belongs to the i-th requested one.
	order := make([]store.InvitationType, len(to))
	for i, email := range to {
		order[i] = kinds[email]
	}

	return s.run(ctx, WorkflowEventInvitation, mailer.Request{
		From:    req.From,
		To:      to,
		ReplyTo: req.ReplyTo,
		Subject: subject,
		Body:    body,
	}, func(ctx context.Context, delivery *Delivery, recipients []store.Recipient) error {
		delivery.EventID = event.ID

		attending, err := s.store.ListEventAttendees(ctx, event.ID)
		if err != nil {
			return err
		}
		skip := map[int64]struct{}{}
		for _, attendee := range attending {
			skip[attendee.RecipientID] = struct{}{}
		}

		byEmail := map[string]store.InvitationType{}
		for i, email := range delivery.To {
			if i < len(order) {
				if current, ok := byEmail[email]; !ok || current == store.InvitationOptional {
					byEmail[email] = order[i]
				}
			}
		}

		var invitees []store.Invitee
		for _, recipient := range recipients {
			if _, ok := skip[recipient.ID]; ok {
				continue
			}
			skip[recipient.ID] = struct{}{}
			kind, ok := byEmail[recipient.Email]
			if !ok {
				kind = store.InvitationOptional
			}
			invitees = append(invitees, store.Invitee{RecipientID: recipient.ID, InvitationType: kind})
		}
		if len(invitees) == 0 {
			return nil
		}
		attendees, err := s.store.AddEventAttendees(ctx, event.ID, invitees)
		if err != nil {
			return err
		}
		delivery.Attendees = attendees
		return nil
	})
}

func invitationBody(event store.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are invited to %s.\n\n", event.Title)
	if event.IsAllDay {
		fmt.Fprintf(&b, "When: %s (all day)\n", event.StartTime.Format("Monday, 02 January 2006"))
	} else {
		fmt.Fprintf(&b, "Starts: %s\n", event.StartTime.Format(time.RFC1123))
		if event.EndTime != nil {
			fmt.Fprintf(&b, "Ends: %s\n", event.EndTime.Format(time.RFC1123))
		}
	}
	if event.Description != nil && *event.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", *event.Description)
	}
	return b.String()
}
