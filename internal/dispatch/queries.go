package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.io/infrasutra/mailmcp/internal/apperr"
	"github.io/infrasutra/mailmcp/internal/pagination"
	"github.io/infrasutra/mailmcp/internal/store"
)

type MembershipRequest struct {
	GroupName      string `json:"group_name"`
	RecipientEmail string `json:"recipient_email"`
}

type Membership struct {
	Group     store.Group     `json:"group"`
	Recipient store.Recipient `json:"recipient"`
}

// AddRecipientToGroup links an active recipient, found by email, to a
// group found by name.
func (s *Service) AddRecipientToGroup(ctx context.Context, req MembershipRequest) (Membership, error) {
	group, recipient, err := s.resolveMembership(ctx, req)
	if err != nil {
		return Membership{}, err
	}
	if _, err := s.store.AddRecipientToGroup(ctx, group.ID, recipient.ID); err != nil {
		return Membership{}, err
	}
	return Membership{Group: group, Recipient: recipient}, nil
}

func (s *Service) RemoveRecipientFromGroup(ctx context.Context, req MembershipRequest) (Membership, error) {
	group, recipient, err := s.resolveMembership(ctx, req)
	if err != nil {
		return Membership{}, err
	}
	if err := s.store.RemoveRecipientFromGroup(ctx, group.ID, recipient.ID); err != nil {
		return Membership{}, err
	}
	return Membership{Group: group, Recipient: recipient}, nil
}

func (s *Service) resolveMembership(ctx context.Context, req MembershipRequest) (store.Group, store.Recipient, error) {
	groupName, err := required("group_name", req.GroupName)
	if err != nil {
		return store.Group{}, store.Recipient{}, err
	}
	email, err := required("recipient_email", req.RecipientEmail)
	if err != nil {
		return store.Group{}, store.Recipient{}, err
	}
	group, err := s.store.FindGroupByName(ctx, groupName)
	if err != nil {
		return store.Group{}, store.Recipient{}, err
	}
	recipient, err := s.store.FindRecipientByEmail(ctx, email)
	if err != nil {
		return store.Group{}, store.Recipient{}, err
	}
	return group, recipient, nil
}

// EmailHistoryRequest filters sent mail. Dates are RFC 3339.
type EmailHistoryRequest struct {
	RecipientEmail string `json:"recipient_email,omitempty"`
	StartDate      string `json:"start_date,omitempty"`
	EndDate        string `json:"end_date,omitempty"`
}

// HistoryFilter is a validated EmailHistoryRequest.
type HistoryFilter struct {
	RecipientEmail string
	Within         *store.TimeRange
}

// Validate checks the request against now. At least one filter is
// required, the start may not lie in the future and may not follow the
// end. A lone start runs until now; a lone end starts at the Unix epoch.
func (r EmailHistoryRequest) Validate(now time.Time) (HistoryFilter, error) {
	email := strings.TrimSpace(r.RecipientEmail)
	startRaw := strings.TrimSpace(r.StartDate)
	endRaw := strings.TrimSpace(r.EndDate)
	if email == "" && startRaw == "" && endRaw == "" {
		return HistoryFilter{}, apperr.InvalidArgument("at least one of recipient_email, start_date or end_date is required")
	}

	filter := HistoryFilter{RecipientEmail: email}
	if startRaw == "" && endRaw == "" {
		return filter, nil
	}

	start := time.Unix(0, 0).UTC()
	end := now
	if startRaw != "" {
		parsed, err := parseDate("start_date", startRaw)
		if err != nil {
			return HistoryFilter{}, err
		}
		if parsed.After(now) {
			return HistoryFilter{}, apperr.InvalidArgument("start_date %s is in the future", startRaw)
		}
		start = parsed
	}
	if endRaw != "" {
		parsed, err := parseDate("end_date", endRaw)
		if err != nil {
			return HistoryFilter{}, err
		}
		end = parsed
	}
	if start.After(end) {
		return HistoryFilter{}, apperr.InvalidArgument("start_date must not be after end_date")
	}
	filter.Within = &store.TimeRange{Start: start, End: end}
	return filter, nil
}

type EmailHistoryEntry struct {
	store.EmailRecord
	Recipients []string `json:"recipients"`
}

func (s *Service) GetEmailRecords(ctx context.Context, req EmailHistoryRequest) ([]EmailHistoryEntry, error) {
	filter, err := req.Validate(s.now())
	if err != nil {
		return nil, err
	}

	var recipientID *int64
	if filter.RecipientEmail != "" {
		recipient, err := s.store.FindRecipientByEmail(ctx, filter.RecipientEmail)
		if err != nil {
			return nil, err
		}
		recipientID = &recipient.ID
	}

	records, err := s.store.ListEmailRecordsByCriteria(ctx, filter.Within, recipientID)
	if err != nil {
		return nil, err
	}
	entries := make([]EmailHistoryEntry, 0, len(records))
	for _, record := range records {
		linked, err := s.store.ListEmailRecordRecipients(ctx, record.ID)
		if err != nil {
			return nil, err
		}
		emails := make([]string, 0, len(linked))
		for _, recipient := range linked {
			emails = append(emails, recipient.Email)
		}
		entries = append(entries, EmailHistoryEntry{EmailRecord: record, Recipients: emails})
	}
	return entries, nil
}

type CreateEventRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	StartTime   string  `json:"start_time"`
	EndTime     *string `json:"end_time,omitempty"`
	IsAllDay    bool    `json:"is_all_day,omitempty"`
}

func (s *Service) CreateEvent(ctx context.Context, req CreateEventRequest) (store.Event, error) {
	title, err := required("title", req.Title)
	if err != nil {
		return store.Event{}, err
	}
	start, err := parseDate("start_time", req.StartTime)
	if err != nil {
		return store.Event{}, err
	}
	event := store.NewEvent{
		Title:       title,
		Description: req.Description,
		StartTime:   start,
		IsAllDay:    req.IsAllDay,
	}
	if req.EndTime != nil && strings.TrimSpace(*req.EndTime) != "" {
		end, err := parseDate("end_time", *req.EndTime)
		if err != nil {
			return store.Event{}, err
		}
		if end.Before(start) {
			return store.Event{}, apperr.InvalidArgument("end_time must not be before start_time")
		}
		event.EndTime = &end
	}
	return s.store.AddEvent(ctx, event)
}

type ListEventsRequest struct {
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
}

// ListEvents returns events starting within the range. A missing start
// means the Unix epoch and a missing end means no upper bound.
func (s *Service) ListEvents(ctx context.Context, req ListEventsRequest) ([]store.Event, error) {
	from := time.Unix(0, 0).UTC()
	if strings.TrimSpace(req.StartTime) != "" {
		parsed, err := parseDate("start_time", req.StartTime)
		if err != nil {
			return nil, err
		}
		from = parsed
	}
	var to *time.Time
	if strings.TrimSpace(req.EndTime) != "" {
		parsed, err := parseDate("end_time", req.EndTime)
		if err != nil {
			return nil, err
		}
		if parsed.Before(from) {
			return nil, apperr.InvalidArgument("start_time must not be after end_time")
		}
		to = &parsed
	}
	return s.store.ListEvents(ctx, from, to)
}

func (s *Service) RemoveEvent(ctx context.Context, eventID int64) (store.Event, error) {
	return s.store.RemoveEvent(ctx, eventID)
}

type AttendeeView struct {
	store.EventAttendee
	Email  string                `json:"email"`
	Name   string                `json:"name"`
	Status store.RecipientStatus `json:"status"`
}

// ListEventAttendees joins attendee rows with their recipients. Removed
// recipients still appear, marked Inactive.
func (s *Service) ListEventAttendees(ctx context.Context, eventID int64) ([]AttendeeView, error) {
	if _, err := s.store.FindEventByID(ctx, eventID); err != nil {
		return nil, err
	}
	attendees, err := s.store.ListEventAttendees(ctx, eventID)
	if err != nil {
		return nil, err
	}
	views := make([]AttendeeView, 0, len(attendees))
	for _, attendee := range attendees {
		recipient, err := s.store.FindRecipientByID(ctx, attendee.RecipientID)
		if err != nil {
			return nil, err
		}
		views = append(views, AttendeeView{
			EventAttendee: attendee,
			Email:         recipient.Email,
			Name:          recipient.Name,
			Status:        recipient.Status,
		})
	}
	return views, nil
}

type ListRecipientsRequest struct {
	GroupName string `json:"group_name,omitempty"`
	Page      int    `json:"page,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// ListRecipients pages through active recipients, or through the active
// members of GroupName when set.
func (s *Service) ListRecipients(ctx context.Context, req ListRecipientsRequest) (pagination.Page[store.Recipient], error) {
	var (
		recipients []store.Recipient
		err        error
	)
	if name := strings.TrimSpace(req.GroupName); name != "" {
		group, ferr := s.store.FindGroupByName(ctx, name)
		if ferr != nil {
			return pagination.Page[store.Recipient]{}, ferr
		}
		recipients, err = s.store.ListRecipientsInGroup(ctx, group.ID)
	} else {
		recipients, err = s.store.ListRecipients(ctx)
	}
	if err != nil {
		return pagination.Page[store.Recipient]{}, err
	}
	return pagination.Window(recipients, pagination.New(req.Page, req.Limit)), nil
}

type PageRequest struct {
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

func (s *Service) ListGroups(ctx context.Context, req PageRequest) (pagination.Page[store.Group], error) {
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return pagination.Page[store.Group]{}, err
	}
	return pagination.Window(groups, pagination.New(req.Page, req.Limit)), nil
}

func (s *Service) ListTemplates(ctx context.Context, req PageRequest) (pagination.Page[store.Template], error) {
	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		return pagination.Page[store.Template]{}, err
	}
	return pagination.Window(templates, pagination.New(req.Page, req.Limit)), nil
}

func parseDate(field, value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, apperr.InvalidArgument("%s must be an RFC 3339 timestamp, got %q", field, value)
	}
	return parsed, nil
}

// normalizeAddress validates email and strips any display name.
func normalizeAddress(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return "", apperr.InvalidArgument("invalid email address %q", email)
	}
	return addr.Address, nil
}
