package tickets

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Endpoint selects which Freshdesk listing the paginator walks.
type Endpoint string

const (
	// EndpointList walks /api/v2/tickets ordered by creation time ascending.
	EndpointList Endpoint = "list"
	// EndpointSearch walks /api/v2/search/tickets with the status set as the query.
	EndpointSearch Endpoint = "search"
)

const (
	ListPageSize   = 100
	SearchPageSize = 30
	// SearchMaxPages is where Freshdesk stops serving search results; page 11 is a 400.
	SearchMaxPages = 10

	listPath   = "/api/v2/tickets"
	searchPath = "/api/v2/search/tickets"

	// listUpdatedSince lifts the list endpoint's default window of the last 30 days.
	listUpdatedSince = "1970-01-01T00:00:00Z"
)

// ParseEndpoint accepts "list" (also the default for "") or "search".
func ParseEndpoint(s string) (Endpoint, error) {
	switch Endpoint(strings.ToLower(strings.TrimSpace(s))) {
	case "", EndpointList:
		return EndpointList, nil
	case EndpointSearch:
		return EndpointSearch, nil
	}
	return "", &ConfigError{Key: "endpoint", Reason: "unsupported endpoint " + s}
}

// PageQuery describes the listing to walk.
type PageQuery struct {
	Endpoint Endpoint
	Statuses StatusSet
	// PageSize applies to the list endpoint only; search pages are fixed at 30.
	PageSize int
	Include  []string
}

// Cursor identifies the next page to request.
type Cursor struct {
	Page int
	// Next holds the query of the API's rel="next" link when it sent one.
	Next url.Values
}

// Page is one batch of raw tickets in API order.
type Page struct {
	Number  int
	Tickets []gjson.Result
}

// Paginator lazily walks a listing once, front to back.
type Paginator struct {
	client    *Client
	query     PageQuery
	cursor    Cursor
	linkAware bool
	done      bool
	logger    *slog.Logger
}

// NewPaginator starts at page 1.
func NewPaginator(client *Client, query PageQuery) *Paginator {
	if query.Endpoint == "" {
		query.Endpoint = EndpointList
	}
	if query.PageSize <= 0 || query.PageSize > ListPageSize {
		query.PageSize = ListPageSize
	}
	if query.Include == nil && query.Endpoint == EndpointList {
		query.Include = []string{"requester"}
	}
	return &Paginator{
		client: client,
		query:  query,
		cursor: Cursor{Page: 1},
		logger: WithComponent(client.logger, "paginator"),
	}
}

// Cursor returns the position of the next request.
func (p *Paginator) Cursor() Cursor {
	return p.cursor
}

// Next fetches the next page. It returns false once the listing is
// exhausted; client errors are returned as they are and end the walk.
func (p *Paginator) Next(ctx context.Context) (Page, bool, error) {
	if p.done {
		return Page{}, false, nil
	}

	path, params := p.request()
	resp, err := p.client.Get(ctx, path, params)
	if err != nil {
		p.done = true
		return Page{}, false, err
	}

	tickets, total, err := extractTickets(resp.Body, p.cursor.Page)
	if err != nil {
		p.done = true
		return Page{}, false, err
	}

	number := p.cursor.Page
	p.logger.Info("fetched page", "page", number, "tickets", len(tickets))

	if len(tickets) == 0 {
		p.logger.Info("no more pages to fetch", "page", number)
		p.done = true
		return Page{}, false, nil
	}

	if p.query.Endpoint == EndpointSearch {
		switch {
		case total >= 0 && number*SearchPageSize >= total:
			p.done = true
		case number >= SearchMaxPages:
			p.logger.Warn("search results truncated by freshdesk, use the list endpoint for complete results",
				"total", total, "pages", number)
			p.done = true
		}
		if p.done {
			return Page{Number: number, Tickets: tickets}, true, nil
		}
	}

	links := parseLinkHeader(resp.Header)
	if len(links) > 0 {
		p.linkAware = true
	}
	switch next, hasNext := links["next"]; {
	case hasNext:
		if err := p.advanceTo(next); err != nil {
			p.done = true
			return Page{}, false, err
		}
	case p.linkAware:
		// the API paginates with links and sent no next link: this was the last page
		p.done = true
	default:
		p.cursor = Cursor{Page: number + 1}
	}

	return Page{Number: number, Tickets: tickets}, true, nil
}

func (p *Paginator) request() (string, url.Values) {
	if p.cursor.Next != nil {
		return p.path(), cloneValues(p.cursor.Next)
	}
	params := url.Values{}
	params.Set("page", strconv.Itoa(p.cursor.Page))
	switch p.query.Endpoint {
	case EndpointSearch:
		params.Set("query", p.query.Statuses.SearchQuery())
	default:
		params.Set("per_page", strconv.Itoa(p.query.PageSize))
		params.Set("order_by", "created_at")
		params.Set("order_type", "asc")
		params.Set("updated_since", listUpdatedSince)
		if len(p.query.Include) > 0 {
			params.Set("include", strings.Join(p.query.Include, ","))
		}
	}
	return p.path(), params
}

func (p *Paginator) path() string {
	if p.query.Endpoint == EndpointSearch {
		return searchPath
	}
	return listPath
}

// advanceTo moves the cursor to the link target, refusing to go backwards.
func (p *Paginator) advanceTo(next *url.URL) error {
	params := next.Query()
	page := p.cursor.Page + 1
	if s := params.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= p.cursor.Page {
			return &PayloadShapeError{Page: p.cursor.Page, Index: -1, Reason: fmt.Sprintf("next link %q does not advance past page %d", next, p.cursor.Page)}
		}
		page = n
	}
	p.cursor = Cursor{Page: page, Next: params}
	return nil
}

// extractTickets accepts a bare array (list endpoint) or {"results": [...], "total": n}
// (search endpoint). total is -1 when the response does not carry one.
func extractTickets(body []byte, page int) ([]gjson.Result, int, error) {
	if !gjson.ValidBytes(body) {
		return nil, -1, &PayloadShapeError{Page: page, Index: -1, Reason: "response is not valid JSON"}
	}
	res := gjson.ParseBytes(body)
	total := -1
	if res.IsObject() {
		if t := res.Get("total"); t.Type == gjson.Number {
			total = int(t.Int())
		}
		res = res.Get("results")
	}
	if !res.IsArray() {
		return nil, -1, &PayloadShapeError{Page: page, Index: -1, Reason: "response holds no ticket array"}
	}
	return res.Array(), total, nil
}

// parseLinkHeader reads RFC 8288 links such as `<https://x/api/v2/tickets?page=2>; rel="next"`.
func parseLinkHeader(header http.Header) map[string]*url.URL {
	result := make(map[string]*url.URL)
	for _, value := range header.Values("Link") {
		for _, link := range strings.Split(value, ",") {
			segments := strings.Split(link, ";")
			target := strings.TrimSpace(segments[0])
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}
			u, err := url.Parse(target[1 : len(target)-1])
			if err != nil {
				continue
			}
			for _, param := range segments[1:] {
				key, val, ok := strings.Cut(strings.TrimSpace(param), "=")
				if !ok || strings.ToLower(strings.TrimSpace(key)) != "rel" {
					continue
				}
				for _, rel := range strings.Fields(strings.Trim(val, `"`)) {
					result[strings.ToLower(rel)] = u
				}
			}
		}
	}
	return result
}

func cloneValues(v url.Values) url.Values {
	result := make(url.Values, len(v))
	for key, values := range v {
		result[key] = append([]string(nil), values...)
	}
	return result
}
