package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"zendeskmcp/client"
)

const localeHelp = "Language locale (e.g., 'en-us', 'fr', 'de'). Defaults to 'en-us'"

func (b *Bridge) articleTools() []toolEntry {
	return []toolEntry{
		{
			tool: mcp.NewTool("zendesk_search_articles",
				mcp.WithDescription("Search for Zendesk Help Center articles with advanced filtering and pagination"),
				mcp.WithString("query", mcp.Required(), mcp.Description("Search query for Help Center articles. Supports text search for matching article content, titles, and keywords")),
				mcp.WithString("locale", mcp.Description("Language locale (e.g., 'en-us', 'fr', 'de'). Filters articles by language")),
				mcp.WithString("sort_by", mcp.Description("Field to sort by (e.g., 'created_at', 'updated_at', 'position', 'title')")),
				mcp.WithString("sort_order", mcp.Enum(sortOrders...), mcp.Description("Sort order: 'asc' for ascending, 'desc' for descending")),
				mcp.WithNumber("per_page", mcp.Min(1), mcp.Max(100), mcp.Description("Number of results per page (1-100, default: 30)")),
				mcp.WithNumber("page", mcp.Min(1), mcp.Description("Page number for pagination (starts from 1)")),
				mcp.WithString("category", mcp.Description("Category ID to filter articles by specific category")),
				mcp.WithString("section", mcp.Description("Section ID to filter articles by specific section")),
				mcp.WithString("brand", mcp.Description("Brand ID to filter articles by brand")),
				mcp.WithArray("label_names", mcp.Items(map[string]any{"type": "string"}), mcp.Description("Array of label names to filter articles by specific labels")),
				mcp.WithString("created_before", mcp.Description("ISO 8601 date string to find articles created before this date")),
				mcp.WithString("created_after", mcp.Description("ISO 8601 date string to find articles created after this date")),
			),
			handler: b.wrap("zendesk_search_articles", b.searchArticles),
		},
		{
			tool: mcp.NewTool("zendesk_list_articles",
				mcp.WithDescription("List all Zendesk Help Center articles with pagination"),
				mcp.WithNumber("per_page", mcp.Min(1), mcp.Max(100), mcp.Description("Number of results per page (1-100, default: 30)")),
				mcp.WithNumber("page", mcp.Min(1), mcp.Description("Page number for pagination (starts from 1)")),
				mcp.WithString("locale", mcp.Description(localeHelp)),
			),
			handler: b.wrap("zendesk_list_articles", b.listArticles),
		},
		{
			tool: mcp.NewTool("zendesk_get_article",
				mcp.WithDescription("Get a specific Zendesk Help Center article by ID"),
				mcp.WithString("article_id", mcp.Required(), mcp.Description("The ID of the Help Center article to retrieve")),
				mcp.WithString("locale", mcp.Description(localeHelp)),
			),
			handler: b.wrap("zendesk_get_article", b.getArticle),
		},
	}
}

func (b *Bridge) searchArticles(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return nil, err
	}
	order, err := oneOf(req, "sort_order", sortOrders...)
	if err != nil {
		return nil, err
	}
	return b.deps.Zendesk.SearchArticles(ctx, query, client.ArticleSearchOptions{
		Locale:        req.GetString("locale", ""),
		SortBy:        req.GetString("sort_by", ""),
		SortOrder:     order,
		PerPage:       req.GetInt("per_page", 0),
		Page:          req.GetInt("page", 0),
		Category:      req.GetString("category", ""),
		Section:       req.GetString("section", ""),
		Brand:         req.GetString("brand", ""),
		LabelNames:    req.GetStringSlice("label_names", nil),
		CreatedBefore: req.GetString("created_before", ""),
		CreatedAfter:  req.GetString("created_after", ""),
	})
}

func (b *Bridge) listArticles(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	return b.deps.Zendesk.ListArticles(ctx, req.GetString("locale", ""), req.GetInt("per_page", 0), req.GetInt("page", 0))
}

func (b *Bridge) getArticle(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	id, err := requireID(req, "article_id")
	if err != nil {
		return nil, err
	}
	return b.deps.Zendesk.GetArticle(ctx, id, req.GetString("locale", ""))
}
