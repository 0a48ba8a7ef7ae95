package mcp

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.io/infrasutra/mailmcp/internal/dispatch"
)

// Tool names. The send tools share their names with the dispatch workflows
// so metric labels line up with what callers invoke.
const (
	ToolSendEmail                = dispatch.WorkflowSendEmail
	ToolSendEmailToGroup         = dispatch.WorkflowSendToGroup
	ToolSendEmailWithTemplate    = dispatch.WorkflowSendTemplate
	ToolSendEventInvitation      = dispatch.WorkflowEventInvitation
	ToolManageMailGroup          = "manage_mail_group"
	ToolManageRecipient          = "manage_recipient"
	ToolManageEmailTemplate      = "manage_email_template"
	ToolAddRecipientToGroup      = "add_recipient_to_group"
	ToolRemoveRecipientFromGroup = "remove_recipient_from_group"
	ToolGetEmailRecords          = "get_email_records"
	ToolCreateEvent              = "create_event"
	ToolListEvents               = "list_events"
	ToolRemoveEvent              = "remove_event"
	ToolListEventAttendees       = "list_event_attendees"
	ToolListRecipients           = "list_recipients"
	ToolListGroups               = "list_groups"
	ToolListTemplates            = "list_templates"
)

func sendEmailToolSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"from": {"type": "string", "description": "Sender identity: a configured address or its local part. Defaults to the first configured sender."},
			"to": {"type": "array", "items": {"type": "string"}, "minItems": 1, "description": "Recipient addresses"},
			"reply_to": {"type": "string"},
			"subject": {"type": "string"},
			"body": {"type": "string", "description": "Plain text body"}
		},
		"required": ["to", "subject", "body"]
	}`)
}

func sendEmailToGroupToolSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"from": {"type": "string"},
			"group_name": {"type": "string", "description": "Every active member of this group receives the message"},
			"reply_to": {"type": "string"},
			"subject": {"type": "string"},
			"body": {"type": "string"}
		},
		"required": ["group_name", "subject", "body"]
	}`)
}

func sendEmailWithTemplateToolSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"from": {"type": "string"},
			"to": {"type": "array", "items": {"type": "string"}, "minItems": 1},
			"reply_to": {"type": "string"},
			"subject": {"type": "string"},
			"template_name": {"type": "string"},
			"data": {
				"type": "object",
				"additionalProperties": {"type": "string"},
				"description": "Values for the template's {placeholder} names"
			}
		},
		"required": ["to", "subject", "template_name"]
	}`)
}

func sendEventInvitationToolSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"from": {"type": "string"},
			"event_id": {"type": "integer"},
			"reply_to": {"type": "string"},
			"subject": {"type": "string", "description": "Defaults to \"Invitation: <event title>\""},
			"body": {"type": "string", "description": "Defaults to a summary of the event"},
			"groups": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"name": {"type": "string"},
						"required": {"type": "boolean"}
					},
					"required": ["name"]
				}
			},
			"recipients": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"email": {"type": "string"},
						"required": {"type": "boolean"}
					},
					"required": ["email"]
				}
			}
		},
		"required": ["event_id"]
	}`)
}

func manageMailGroupToolSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["add", "remove", "update"]},
			"id": {"type": "integer", "description": "Group id for remove and update"},
			"name": {"type": "string", "description": "Name to add, or the group to remove or update when id is omitted"},
			"new_name": {"type": "string", "description": "Replacement name for update"}
		},
		"required": ["action"]
	}`)
}

func manageRecipientToolSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["add", "remove", "update"]},
			"id": {"type": "integer", "description": "Recipient id for remove and update"},
			"email": {"type": "string", "description": "Address to add, or the recipient to remove or update when id is omitted"},
			"name": {"type": "string", "description": "Display name for add; defaults to the address local part"},
			"new_name": {"type": "string"},
			"new_email": {"type": "string"}
		},
		"required": ["action"]
	}`)
}

func manageEmailTemplateToolSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["add", "remove", "update"]},
			"id": {"type": "integer"},
			"name": {"type": "string"},
			"new_name": {"type": "string"},
			"format_string": {"type": "string", "description": "Template body with {placeholder} names"}
		},
		"required": ["action"]
	}`)
}

func membershipToolSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"group_name": {"type": "string"},
			"recipient_email": {"type": "string"}
		},
		"required": ["group_name", "recipient_email"]
	}`)
}

func getEmailRecordsToolSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"recipient_email": {"type": "string"},
			"start_date": {"type": "string", "format": "date-time"},
			"end_date": {"type": "string", "format": "date-time"}
		}
	}`)
}

func createEventToolSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {"type": "string"},
			"description": {"type": "string"},
			"start_time": {"type": "string", "format": "date-time"},
			"end_time": {"type": "string", "format": "date-time"},
			"is_all_day": {"type": "boolean"}
		},
		"required": ["title", "start_time"]
	}`)
}

func listEventsToolSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"start_time": {"type": "string", "format": "date-time"},
			"end_time": {"type": "string", "format": "date-time"}
		}
	}`)
}

func eventRefToolSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"event_id": {"type": "integer"}
		},
		"required": ["event_id"]
	}`)
}

func listRecipientsToolSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"group_name": {"type": "string", "description": "Only list active members of this group"},
			"page": {"type": "integer", "minimum": 1},
			"limit": {"type": "integer", "minimum": 1, "maximum": 100}
		}
	}`)
}

func pageToolSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"page": {"type": "integer", "minimum": 1},
			"limit": {"type": "integer", "minimum": 1, "maximum": 100}
		}
	}`)
}

type toolSpec struct {
	tool    *mcp.Tool
	handler mcp.ToolHandler
}

func (s *Server) toolSpecs() []toolSpec {
	return []toolSpec{
		{&mcp.Tool{
			Name:        ToolSendEmail,
			Description: "Send a plain text email to one or more addresses and record it in the history",
			InputSchema: sendEmailToolSchema(),
		}, handle(s, ToolSendEmail, s.svc.SendEmail)},
		{&mcp.Tool{
			Name:        ToolSendEmailToGroup,
			Description: "Send one email to every active member of a group",
			InputSchema: sendEmailToGroupToolSchema(),
		}, handle(s, ToolSendEmailToGroup, s.svc.SendToGroup)},
		{&mcp.Tool{
			Name:        ToolSendEmailWithTemplate,
			Description: "Render a stored template with the given data and send the result",
			InputSchema: sendEmailWithTemplateToolSchema(),
		}, handle(s, ToolSendEmailWithTemplate, s.svc.SendTemplate)},
		{&mcp.Tool{
			Name:        ToolSendEventInvitation,
			Description: "Invite groups and individual recipients to an event, marking each as required or optional",
			InputSchema: sendEventInvitationToolSchema(),
		}, handle(s, ToolSendEventInvitation, s.svc.SendEventInvitation)},
		{&mcp.Tool{
			Name:        ToolManageMailGroup,
			Description: "Add, remove or rename a mail group",
			InputSchema: manageMailGroupToolSchema(),
		}, handleRaw(s, ToolManageMailGroup, s.manageGroup)},
		{&mcp.Tool{
			Name:        ToolManageRecipient,
			Description: "Add, remove or update a recipient in the address book",
			InputSchema: manageRecipientToolSchema(),
		}, handleRaw(s, ToolManageRecipient, s.manageRecipient)},
		{&mcp.Tool{
			Name:        ToolManageEmailTemplate,
			Description: "Add, remove or update an email template",
			InputSchema: manageEmailTemplateToolSchema(),
		}, handleRaw(s, ToolManageEmailTemplate, s.manageTemplate)},
		{&mcp.Tool{
			Name:        ToolAddRecipientToGroup,
			Description: "Add an existing recipient to a group",
			InputSchema: membershipToolSchema(),
		}, handle(s, ToolAddRecipientToGroup, s.svc.AddRecipientToGroup)},
		{&mcp.Tool{
			Name:        ToolRemoveRecipientFromGroup,
			Description: "Remove a recipient from a group",
			InputSchema: membershipToolSchema(),
		}, handle(s, ToolRemoveRecipientFromGroup, s.svc.RemoveRecipientFromGroup)},
		{&mcp.Tool{
			Name:        ToolGetEmailRecords,
			Description: "List sent emails filtered by recipient and/or an RFC 3339 date range",
			InputSchema: getEmailRecordsToolSchema(),
		}, handle(s, ToolGetEmailRecords, s.svc.GetEmailRecords)},
		{&mcp.Tool{
			Name:        ToolCreateEvent,
			Description: "Create a calendar event",
			InputSchema: createEventToolSchema(),
		}, handle(s, ToolCreateEvent, s.svc.CreateEvent)},
		{&mcp.Tool{
			Name:        ToolListEvents,
			Description: "List events starting within an optional time range",
			InputSchema: listEventsToolSchema(),
		}, handle(s, ToolListEvents, s.svc.ListEvents)},
		{&mcp.Tool{
			Name:        ToolRemoveEvent,
			Description: "Delete an event and its attendee list",
			InputSchema: eventRefToolSchema(),
		}, handle(s, ToolRemoveEvent, s.removeEvent)},
		{&mcp.Tool{
			Name:        ToolListEventAttendees,
			Description: "List the recipients invited to an event. An unknown or removed event_id is a not found error, not an empty list",
			InputSchema: eventRefToolSchema(),
		}, handle(s, ToolListEventAttendees, s.listEventAttendees)},
		{&mcp.Tool{
			Name:        ToolListRecipients,
			Description: "Page through active recipients, optionally within one group. An unknown or removed group_name is a not found error, not an empty page",
			InputSchema: listRecipientsToolSchema(),
		}, handle(s, ToolListRecipients, s.svc.ListRecipients)},
		{&mcp.Tool{
			Name:        ToolListGroups,
			Description: "Page through mail groups",
			InputSchema: pageToolSchema(),
		}, handle(s, ToolListGroups, s.svc.ListGroups)},
		{&mcp.Tool{
			Name:        ToolListTemplates,
			Description: "Page through email templates",
			InputSchema: pageToolSchema(),
		}, handle(s, ToolListTemplates, s.svc.ListTemplates)},
	}
}

// RegisterTools registers every mail tool with the MCP server.
func RegisterTools(s *Server) {
	for _, spec := range s.toolSpecs() {
		s.mcpServer.AddTool(spec.tool, spec.handler)
	}
}
