package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.io/infrasutra/mailmcp/internal/apperr"
)

// newTestStore opens an in-memory store with the schema applied.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	s, err := Open(ctx, "")
	require.NoError(t, err, "open test store")
	require.NoError(t, s.EnsureSchema(ctx), "ensure schema")

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})
	return s
}

func strPtr(v string) *string { return &v }

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestRecipientLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	recipients, err := s.ListRecipients(ctx)
	require.NoError(t, err)
	assert.Empty(t, recipients)

	me, err := s.NewRecipient(ctx, "me", "me@domain.com")
	require.NoError(t, err)
	assert.Equal(t, RecipientActive, me.Status)

	updated, err := s.UpdateRecipient(ctx, me.ID, RecipientUpdate{Name: strPtr("me2")})
	require.NoError(t, err)
	assert.Equal(t, "me2", updated.Name)
	assert.Equal(t, "me@domain.com", updated.Email, "unset fields stay unchanged")

	updated, err = s.UpdateRecipient(ctx, me.ID, RecipientUpdate{Email: strPtr("me2@domain.com")})
	require.NoError(t, err)
	assert.Equal(t, "me2", updated.Name)
	assert.Equal(t, "me2@domain.com", updated.Email)

	removed, err := s.RemoveRecipient(ctx, me.ID)
	require.NoError(t, err)
	assert.Equal(t, RecipientInactive, removed.Status)

	recipients, err = s.ListRecipients(ctx)
	require.NoError(t, err)
	assert.Empty(t, recipients, "inactive recipients are not listed")

	byID, err := s.FindRecipientByID(ctx, me.ID)
	require.NoError(t, err, "removed recipients stay resolvable by id")
	assert.Equal(t, "me2@domain.com", byID.Email)

	_, err = s.FindRecipientByEmail(ctx, "me2@domain.com")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	again, err := s.RemoveRecipient(ctx, me.ID)
	require.NoError(t, err, "removing an inactive recipient is a no-op")
	assert.Equal(t, RecipientInactive, again.Status)

	_, err = s.RemoveRecipient(ctx, 9999)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestNewRecipientConflicts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.NewRecipient(ctx, "a", "a@x.com")
	require.NoError(t, err)

	_, err = s.NewRecipient(ctx, "dup", "a@x.com")
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = s.RemoveRecipient(ctx, first.ID)
	require.NoError(t, err)
	_, err = s.NewRecipient(ctx, "dup", "a@x.com")
	assert.True(t, apperr.Is(err, apperr.KindConflict), "inactive rows still own their address")

	other, err := s.NewRecipient(ctx, "b", "b@x.com")
	require.NoError(t, err)
	_, err = s.UpdateRecipient(ctx, other.ID, RecipientUpdate{Email: strPtr("a@x.com")})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = s.UpdateRecipient(ctx, 4242, RecipientUpdate{Name: strPtr("ghost")})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestFindRecipientByEmailIsExact(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.NewRecipient(ctx, "Mixed", "Mixed@X.com")
	require.NoError(t, err)

	found, err := s.FindRecipientByEmail(ctx, "Mixed@X.com")
	require.NoError(t, err)
	assert.Equal(t, "Mixed", found.Name)

	_, err = s.FindRecipientByEmail(ctx, "mixed@x.com")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestUpsertRecipients(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	known, err := s.NewRecipient(ctx, "Known", "known@x.com")
	require.NoError(t, err)
	gone, err := s.NewRecipient(ctx, "Gone", "gone@x.com")
	require.NoError(t, err)
	_, err = s.RemoveRecipient(ctx, gone.ID)
	require.NoError(t, err)

	got, err := s.UpsertRecipients(ctx, []string{"known@x.com", "new.person@x.com", "known@x.com", "gone@x.com"})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, known.ID, got[0].ID)
	assert.Equal(t, "new.person", got[1].Name, "new recipients are named after the local part")
	assert.Equal(t, RecipientActive, got[1].Status)
	assert.Equal(t, gone.ID, got[2].ID)
	assert.Equal(t, RecipientInactive, got[2].Status, "existing inactive rows are linked as stored")
}

func TestGroupMembershipAndCascade(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	group, err := s.NewGroup(ctx, "eng")
	require.NoError(t, err)
	_, err = s.NewGroup(ctx, "eng")
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	renamed, err := s.UpdateGroup(ctx, group.ID, "engineering")
	require.NoError(t, err)
	assert.Equal(t, "engineering", renamed.Name)

	alice, err := s.NewRecipient(ctx, "Alice", "alice@x.com")
	require.NoError(t, err)
	bob, err := s.NewRecipient(ctx, "Bob", "bob@x.com")
	require.NoError(t, err)

	_, err = s.AddRecipientToGroup(ctx, group.ID, alice.ID)
	require.NoError(t, err)
	_, err = s.AddRecipientToGroup(ctx, group.ID, bob.ID)
	require.NoError(t, err)
	_, err = s.AddRecipientToGroup(ctx, group.ID, bob.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	_, err = s.AddRecipientToGroup(ctx, 777, bob.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	members, err := s.ListRecipientsInGroup(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, alice.ID, members[0].ID)

	require.NoError(t, s.RemoveRecipientFromGroup(ctx, group.ID, bob.ID))
	err = s.RemoveRecipientFromGroup(ctx, group.ID, bob.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	members, err = s.FindRecipientsByGroupID(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)

	removed, err := s.RemoveGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, "engineering", removed.Name)

	members, err = s.FindRecipientsByGroupID(ctx, group.ID)
	require.NoError(t, err, "membership of a deleted group is empty, not an error")
	assert.Empty(t, members)

	_, err = s.ListRecipientsInGroup(ctx, group.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "the checked variant verifies the group")

	stillThere, err := s.FindRecipientByEmail(ctx, "alice@x.com")
	require.NoError(t, err, "members survive group deletion")
	assert.Equal(t, alice.ID, stillThere.ID)

	_, err = s.FindGroupByName(ctx, "engineering")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestGroupMembersExcludeInactive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	group, err := s.NewGroup(ctx, "ops")
	require.NoError(t, err)
	r, err := s.NewRecipient(ctx, "R", "r@x.com")
	require.NoError(t, err)
	_, err = s.AddRecipientToGroup(ctx, group.ID, r.ID)
	require.NoError(t, err)
	_, err = s.RemoveRecipient(ctx, r.ID)
	require.NoError(t, err)

	members, err := s.ListRecipientsInGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestTemplateCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tpl, err := s.NewTemplate(ctx, "test", "template {name}")
	require.NoError(t, err)
	_, err = s.NewTemplate(ctx, "test", "other")
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	updated, err := s.UpdateTemplate(ctx, tpl.ID, TemplateUpdate{
		Name:         strPtr("test2"),
		FormatString: strPtr("template {name} {version}"),
	})
	require.NoError(t, err)
	assert.Equal(t, "test2", updated.Name)
	assert.Equal(t, "template {name} {version}", updated.FormatString)

	found, err := s.FindTemplateByName(ctx, "test2")
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, found.ID)

	removed, err := s.RemoveTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "test2", removed.Name)

	templates, err := s.ListTemplates(ctx)
	require.NoError(t, err)
	assert.Empty(t, templates)

	_, err = s.RemoveTemplate(ctx, tpl.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestEmailRecordsByCriteria(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.ListEmailRecordsByCriteria(ctx, nil, nil)
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))

	record, err := s.AddEmailRecord(ctx, "Test Subject", "Test Body")
	require.NoError(t, err)
	assert.Equal(t, "Test Subject", record.Subject)
	assert.WithinDuration(t, time.Now().UTC(), record.SentAt, 5*time.Second)

	r, err := s.NewRecipient(ctx, "someone2", "someone2@domain.com")
	require.NoError(t, err)
	other, err := s.NewRecipient(ctx, "other", "other@domain.com")
	require.NoError(t, err)
	_, err = s.AddRecipientEmailRecord(ctx, record.ID, r.ID)
	require.NoError(t, err)
	_, err = s.AddRecipientEmailRecord(ctx, record.ID, other.ID)
	require.NoError(t, err)

	window := &TimeRange{Start: time.Now().Add(-time.Minute), End: time.Now().Add(time.Minute)}

	both, err := s.ListEmailRecordsByCriteria(ctx, window, &r.ID)
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, record.ID, both[0].ID)

	byRecipient, err := s.ListEmailRecordsByCriteria(ctx, nil, &r.ID)
	require.NoError(t, err)
	assert.Equal(t, both, byRecipient)

	byTime, err := s.ListEmailRecordsByCriteria(ctx, window, nil)
	require.NoError(t, err)
	assert.Equal(t, both, byTime, "a record linked twice is listed once")

	past := &TimeRange{Start: time.Now().Add(-2 * time.Hour), End: time.Now().Add(-time.Hour)}
	none, err := s.ListEmailRecordsByCriteria(ctx, past, &r.ID)
	require.NoError(t, err)
	assert.Empty(t, none)

	plusFive := time.FixedZone("+05:00", 5*60*60)
	exact := &TimeRange{Start: record.SentAt.In(plusFive), End: record.SentAt.In(plusFive)}
	atBoundary, err := s.ListEmailRecordsByCriteria(ctx, exact, nil)
	require.NoError(t, err)
	require.Len(t, atBoundary, 1, "both ends of the range are inclusive")
	assert.Equal(t, record.ID, atBoundary[0].ID)

	justAfter := &TimeRange{Start: record.SentAt.Add(time.Second).In(plusFive), End: record.SentAt.Add(time.Minute).In(plusFive)}
	after, err := s.ListEmailRecordsByCriteria(ctx, justAfter, nil)
	require.NoError(t, err)
	assert.Empty(t, after)

	linked, err := s.ListEmailRecordRecipients(ctx, record.ID)
	require.NoError(t, err)
	assert.Len(t, linked, 2)
}

func TestRecordDeliveryLinksAllRecipients(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	recipients, err := s.UpsertRecipients(ctx, []string{"a@x.com", "b@x.com"})
	require.NoError(t, err)

	record, err := s.RecordDelivery(ctx, "Hi", "there", []int64{recipients[0].ID, recipients[1].ID})
	require.NoError(t, err)

	for _, recipient := range recipients {
		records, err := s.ListEmailRecordsByCriteria(ctx, nil, &recipient.ID)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, record.ID, records[0].ID)
	}

	_, err = s.RecordDelivery(ctx, "Hi", "there", []int64{recipients[0].ID, 999})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	window := &TimeRange{Start: time.Now().Add(-time.Minute), End: time.Now().Add(time.Minute)}
	all, err := s.ListEmailRecordsByCriteria(ctx, window, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1, "a failed delivery record is rolled back as a whole")
}

func TestEventsAndAttendees(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	start := time.Date(2030, 5, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	event, err := s.AddEvent(ctx, NewEvent{
		Title:       "Test Event",
		Description: strPtr("This is a test event"),
		StartTime:   start,
		EndTime:     &end,
	})
	require.NoError(t, err)
	assert.Equal(t, "Test Event", event.Title)
	require.NotNil(t, event.Description)
	assert.Equal(t, "This is a test event", *event.Description)
	assert.True(t, start.Equal(event.StartTime))
	require.NotNil(t, event.EndTime)
	assert.True(t, end.Equal(*event.EndTime))

	allDay, err := s.AddEvent(ctx, NewEvent{Title: "Holiday", StartTime: start.AddDate(0, 1, 0), IsAllDay: true})
	require.NoError(t, err)
	assert.Nil(t, allDay.EndTime)
	assert.Nil(t, allDay.Description)
	assert.True(t, allDay.IsAllDay)

	upper := start.AddDate(0, 0, 1)
	events, err := s.ListEvents(ctx, start.AddDate(0, 0, -1), &upper)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.ID, events[0].ID)

	events, err = s.ListEvents(ctx, start, nil)
	require.NoError(t, err)
	assert.Len(t, events, 2, "no upper bound")

	plusFive := time.FixedZone("+05:00", 5*60*60)
	exact := start.In(plusFive)
	events, err = s.ListEvents(ctx, exact, &exact)
	require.NoError(t, err)
	require.Len(t, events, 1, "both ends of the range are inclusive")
	assert.Equal(t, event.ID, events[0].ID)

	recipient, err := s.NewRecipient(ctx, "Attendee", "attendee@domain.com")
	require.NoError(t, err)

	attendee, err := s.AddEventAttendee(ctx, event.ID, recipient.ID, InvitationRequired)
	require.NoError(t, err)
	assert.Equal(t, InvitationRequired, attendee.InvitationType)

	_, err = s.AddEventAttendee(ctx, event.ID, recipient.ID, InvitationType("Maybe"))
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))
	_, err = s.AddEventAttendee(ctx, 404, recipient.ID, InvitationOptional)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	attendees, err := s.ListEventAttendees(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, attendees, 1)
	assert.Equal(t, recipient.ID, attendees[0].RecipientID)

	_, err = s.RemoveEvent(ctx, event.ID)
	require.NoError(t, err)

	attendees, err = s.ListEventAttendees(ctx, event.ID)
	require.NoError(t, err)
	assert.Empty(t, attendees)

	_, err = s.FindEventByID(ctx, event.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestAddEventAttendeesBatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	event, err := s.AddEvent(ctx, NewEvent{Title: "Standup", StartTime: time.Now()})
	require.NoError(t, err)
	recipients, err := s.UpsertRecipients(ctx, []string{"a@x.com", "b@x.com"})
	require.NoError(t, err)

	attendees, err := s.AddEventAttendees(ctx, event.ID, []Invitee{
		{RecipientID: recipients[0].ID, InvitationType: InvitationRequired},
		{RecipientID: recipients[1].ID, InvitationType: InvitationOptional},
	})
	require.NoError(t, err)
	require.Len(t, attendees, 2)
	assert.Equal(t, InvitationOptional, attendees[1].InvitationType)
}

func TestLocalPart(t *testing.T) {
	assert.Equal(t, "me", LocalPart("me@x.com"))
	assert.Equal(t, "odd@name", LocalPart("odd@name@x.com"))
	assert.Equal(t, "plain", LocalPart("plain"))
}
