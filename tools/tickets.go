package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"zendeskmcp/client"
)

var (
	ticketStatuses   = []string{"new", "open", "pending", "hold", "solved", "closed"}
	ticketPriorities = []string{"low", "normal", "high", "urgent"}
	ticketTypes      = []string{"problem", "incident", "question", "task"}
	sortOrders       = []string{"asc", "desc"}
	searchTypes      = []string{"ticket", "user", "organization", "group"}
)

const searchQueryHelp = "Search query supporting Zendesk syntax: Field searches (status:open, priority:urgent, type:ticket, tags:billing, assignee_id:123, requester:email@domain.com), " +
	"comparison operators (created>2024-01-01, updated<2024-12-31), text searches with quotes for exact phrases (\"login issue\"), wildcards (login*), " +
	"negation (-status:solved), and combinations (status:open priority:high created>2024-01-01). " +
	"Examples: 'status:open', 'priority:urgent tags:billing', 'type:ticket \"password reset\"', '-status:solved created>2024-01-01'"

func (b *Bridge) ticketTools() []toolEntry {
	return []toolEntry{
		{
			tool: mcp.NewTool("zendesk_search",
				mcp.WithDescription("Search for Zendesk tickets and other resources with advanced filtering and pagination"),
				mcp.WithString("query", mcp.Required(), mcp.Description(searchQueryHelp)),
				mcp.WithString("sort_by", mcp.Description("Field to sort by (e.g., 'created_at', 'updated_at', 'priority', 'status', 'ticket_type')")),
				mcp.WithString("sort_order", mcp.Enum(sortOrders...), mcp.Description("Sort order: 'asc' for ascending, 'desc' for descending")),
				mcp.WithNumber("per_page", mcp.Min(1), mcp.Max(100), mcp.Description("Number of results per page (1-100, default: 100)")),
				mcp.WithNumber("page", mcp.Min(1), mcp.Description("Page number for pagination (starts from 1)")),
				mcp.WithString("type", mcp.Enum(searchTypes...), mcp.Description("Resource type to search (defaults to all types if not specified)")),
			),
			handler: b.wrap("zendesk_search", b.search),
		},
		{
			tool: mcp.NewTool("zendesk_get_ticket",
				mcp.WithDescription("Get a Zendesk ticket by ID"),
				mcp.WithString("ticket_id", mcp.Required(), mcp.Description("The ID of the ticket to retrieve")),
			),
			handler: b.wrap("zendesk_get_ticket", b.getTicket),
		},
		{
			tool: mcp.NewTool("zendesk_get_ticket_details",
				mcp.WithDescription("Get detailed information about a Zendesk ticket including comments"),
				mcp.WithString("ticket_id", mcp.Required(), mcp.Description("The ID of the ticket to retrieve details for")),
			),
			handler: b.wrap("zendesk_get_ticket_details", b.getTicketDetails),
		},
		{
			tool: mcp.NewTool("zendesk_get_linked_incidents",
				mcp.WithDescription("Fetch all incident tickets linked to a particular ticket"),
				mcp.WithString("ticket_id", mcp.Required(), mcp.Description("The ID of the ticket to retrieve linked incidents for")),
			),
			handler: b.wrap("zendesk_get_linked_incidents", b.getLinkedIncidents),
		},
		{
			tool: mcp.NewTool("zendesk_update_ticket",
				mcp.WithDescription("Update a Zendesk ticket's properties"),
				mcp.WithString("ticket_id", mcp.Required(), mcp.Description("The ID of the ticket to update")),
				mcp.WithString("subject", mcp.Description("The new subject of the ticket")),
				mcp.WithString("status", mcp.Enum(ticketStatuses...), mcp.Description("The new status of the ticket")),
				mcp.WithString("priority", mcp.Enum(ticketPriorities...), mcp.Description("The new priority of the ticket")),
				mcp.WithString("type", mcp.Enum(ticketTypes...), mcp.Description("The new type of the ticket")),
				mcp.WithString("assignee_id", mcp.Description("The ID of the agent to assign the ticket to")),
				mcp.WithArray("tags", mcp.Items(map[string]any{"type": "string"}), mcp.Description("Tags to set on the ticket (replaces existing tags)")),
			),
			handler: b.wrap("zendesk_update_ticket", b.updateTicket),
		},
		{
			tool: mcp.NewTool("zendesk_create_ticket",
				mcp.WithDescription("Create a new Zendesk ticket"),
				mcp.WithString("subject", mcp.Required(), mcp.Description("The subject of the ticket")),
				mcp.WithString("description", mcp.Required(), mcp.Description("The initial description or comment for the ticket")),
				mcp.WithString("priority", mcp.Enum(ticketPriorities...), mcp.Description("The priority of the ticket")),
				mcp.WithString("status", mcp.Enum(ticketStatuses...), mcp.Description("The status of the ticket")),
				mcp.WithString("type", mcp.Enum(ticketTypes...), mcp.Description("The type of the ticket")),
				mcp.WithArray("tags", mcp.Items(map[string]any{"type": "string"}), mcp.Description("Tags to add to the ticket")),
			),
			handler: b.wrap("zendesk_create_ticket", b.createTicket),
		},
		{
			tool: mcp.NewTool("zendesk_add_private_note",
				mcp.WithDescription("Add a private internal note to a Zendesk ticket"),
				mcp.WithString("ticket_id", mcp.Required(), mcp.Description("The ID of the ticket to add a note to")),
				mcp.WithString("note", mcp.Required(), mcp.Description("The content of the private note")),
			),
			handler: b.wrap("zendesk_add_private_note", b.addComment("note", false)),
		},
		{
			tool: mcp.NewTool("zendesk_add_public_note",
				mcp.WithDescription("Add a public comment to a Zendesk ticket"),
				mcp.WithString("ticket_id", mcp.Required(), mcp.Description("The ID of the ticket to add a comment to")),
				mcp.WithString("comment", mcp.Required(), mcp.Description("The content of the public comment")),
			),
			handler: b.wrap("zendesk_add_public_note", b.addComment("comment", true)),
		},
	}
}

func (b *Bridge) search(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return nil, err
	}
	order, err := oneOf(req, "sort_order", sortOrders...)
	if err != nil {
		return nil, err
	}
	kind, err := oneOf(req, "type", searchTypes...)
	if err != nil {
		return nil, err
	}
	return b.deps.Zendesk.Search(ctx, query, client.SearchOptions{
		SortBy:    req.GetString("sort_by", ""),
		SortOrder: order,
		PerPage:   req.GetInt("per_page", 0),
		Page:      req.GetInt("page", 0),
		Type:      kind,
	})
}

func (b *Bridge) getTicket(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	id, err := requireID(req, "ticket_id")
	if err != nil {
		return nil, err
	}
	return b.deps.Zendesk.GetTicket(ctx, id)
}

func (b *Bridge) getTicketDetails(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	id, err := requireID(req, "ticket_id")
	if err != nil {
		return nil, err
	}
	return b.deps.Zendesk.GetTicketDetails(ctx, id)
}

func (b *Bridge) getLinkedIncidents(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	id, err := requireID(req, "ticket_id")
	if err != nil {
		return nil, err
	}
	return b.deps.Zendesk.ListIncidents(ctx, id)
}

func (b *Bridge) updateTicket(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	id, err := requireID(req, "ticket_id")
	if err != nil {
		return nil, err
	}
	fields, err := ticketFields(req)
	if err != nil {
		return nil, err
	}
	assignee, err := optionalID(req, "assignee_id")
	if err != nil {
		return nil, err
	}
	fields.Subject = req.GetString("subject", "")
	fields.AssigneeID = assignee
	return b.deps.Zendesk.UpdateTicket(ctx, id, fields)
}

func (b *Bridge) createTicket(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	subject, err := req.RequireString("subject")
	if err != nil {
		return nil, err
	}
	description, err := req.RequireString("description")
	if err != nil {
		return nil, err
	}
	fields, err := ticketFields(req)
	if err != nil {
		return nil, err
	}
	fields.Subject = subject
	fields.Comment = &client.Comment{Body: description}
	return b.deps.Zendesk.CreateTicket(ctx, fields)
}

func (b *Bridge) addComment(key string, public bool) handlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
		id, err := requireID(req, "ticket_id")
		if err != nil {
			return nil, err
		}
		body, err := req.RequireString(key)
		if err != nil {
			return nil, err
		}
		return b.deps.Zendesk.AddComment(ctx, id, body, public)
	}
}

// ticketFields reads the enum and tag arguments shared by create and update.
func ticketFields(req mcp.CallToolRequest) (client.TicketFields, error) {
	var fields client.TicketFields
	var err error
	if fields.Status, err = oneOf(req, "status", ticketStatuses...); err != nil {
		return fields, err
	}
	if fields.Priority, err = oneOf(req, "priority", ticketPriorities...); err != nil {
		return fields, err
	}
	if fields.Type, err = oneOf(req, "type", ticketTypes...); err != nil {
		return fields, err
	}
	fields.Tags = req.GetStringSlice("tags", nil)
	return fields, nil
}
