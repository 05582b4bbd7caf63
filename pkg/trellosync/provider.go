package trellosync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/h4mn/skybridge/pkg/kanban"
	"github.com/h4mn/skybridge/pkg/skyerr"
)

// HTTPProvider is the concrete Provider against Trello's REST API
// (https://developer.atlassian.com/cloud/trello/rest/), grounded on
// pkg/githubpr.Client's same http.Client-plus-query-string shape. It is
// the one piece of spec.md §4.7's "non-goal" wire protocol this repo does
// implement, since without it trellosync.Service has nothing to drive —
// the capability interface (Provider) stays the seam a different client
// could still be swapped in behind.
type HTTPProvider struct {
	http    *http.Client
	baseURL string
	apiKey  string
	token   string
	boardID string
}

const trelloBaseURL = "https://api.trello.com"

// NewHTTPProvider builds an HTTPProvider scoped to a single Trello board.
func NewHTTPProvider(apiKey, token, boardID string) *HTTPProvider {
	return &HTTPProvider{http: &http.Client{Timeout: 15 * time.Second}, baseURL: trelloBaseURL, apiKey: apiKey, token: token, boardID: boardID}
}

type trelloCardResponse struct {
	ID string `json:"id"`
}

func (p *HTTPProvider) authQuery() url.Values {
	q := url.Values{}
	q.Set("key", p.apiKey)
	q.Set("token", p.token)
	return q
}

// CreateCard posts a new card onto idList (looked up by name via the
// board's lists) and returns Trello's card id.
func (p *HTTPProvider) CreateCard(ctx context.Context, card kanban.Card) (string, error) {
	listID, err := p.listIDByName(ctx, card.ListName)
	if err != nil {
		return "", err
	}
	q := p.authQuery()
	q.Set("idList", listID)
	q.Set("name", card.Title)
	q.Set("desc", card.Description)

	var resp trelloCardResponse
	if err := p.do(ctx, http.MethodPost, "/1/cards", q, &resp); err != nil {
		return "", skyerr.Wrap(skyerr.KindUnavailable, "HTTPProvider.CreateCard", "create trello card", err)
	}
	return resp.ID, nil
}

// UpdateCard patches a card's name and description.
func (p *HTTPProvider) UpdateCard(ctx context.Context, externalID string, card kanban.Card) error {
	q := p.authQuery()
	q.Set("name", card.Title)
	q.Set("desc", card.Description)
	path := fmt.Sprintf("/1/cards/%s", externalID)
	if err := p.do(ctx, http.MethodPut, path, q, nil); err != nil {
		return skyerr.Wrap(skyerr.KindUnavailable, "HTTPProvider.UpdateCard", "update trello card", err)
	}
	return nil
}

// MoveCard changes a card's list by name.
func (p *HTTPProvider) MoveCard(ctx context.Context, externalID, listName string) error {
	listID, err := p.listIDByName(ctx, listName)
	if err != nil {
		return err
	}
	q := p.authQuery()
	q.Set("idList", listID)
	path := fmt.Sprintf("/1/cards/%s", externalID)
	if err := p.do(ctx, http.MethodPut, path, q, nil); err != nil {
		return skyerr.Wrap(skyerr.KindUnavailable, "HTTPProvider.MoveCard", "move trello card", err)
	}
	return nil
}

type trelloListResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// listIDByName resolves a board list's name to Trello's id, creating the
// list on the board if none matches yet.
func (p *HTTPProvider) listIDByName(ctx context.Context, name string) (string, error) {
	var lists []trelloListResponse
	path := fmt.Sprintf("/1/boards/%s/lists", p.boardID)
	if err := p.do(ctx, http.MethodGet, path, p.authQuery(), &lists); err != nil {
		return "", skyerr.Wrap(skyerr.KindUnavailable, "HTTPProvider.listIDByName", "list trello lists", err)
	}
	for _, l := range lists {
		if strings.EqualFold(l.Name, name) {
			return l.ID, nil
		}
	}

	q := p.authQuery()
	q.Set("name", name)
	q.Set("idBoard", p.boardID)
	var created trelloListResponse
	if err := p.do(ctx, http.MethodPost, "/1/lists", q, &created); err != nil {
		return "", skyerr.Wrap(skyerr.KindUnavailable, "HTTPProvider.listIDByName", "create trello list", err)
	}
	return created.ID, nil
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, query url.Values, out interface{}) error {
	reqURL := p.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("trello API returned status %d for %s %s", resp.StatusCode, method, path)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
