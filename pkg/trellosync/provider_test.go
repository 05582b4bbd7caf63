package trellosync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/h4mn/skybridge/pkg/kanban"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*HTTPProvider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	p := NewHTTPProvider("key", "token", "board-1")
	p.baseURL = srv.URL
	return p, srv
}

func TestCreateCard_ResolvesListThenPostsCard(t *testing.T) {
	p, srv := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/1/boards/board-1/lists":
			w.Write([]byte(`[{"id":"list-1","name":"Issues"}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/1/cards":
			if r.URL.Query().Get("idList") != "list-1" {
				t.Errorf("idList = %q, want list-1", r.URL.Query().Get("idList"))
			}
			w.Write([]byte(`{"id":"card-9"}`))
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	})
	defer srv.Close()

	id, err := p.CreateCard(context.Background(), kanban.Card{ID: "local-1", ListName: "Issues", Title: "fix bug"})
	if err != nil {
		t.Fatalf("CreateCard: %v", err)
	}
	if id != "card-9" {
		t.Fatalf("id = %q, want card-9", id)
	}
}

func TestCreateCard_CreatesMissingList(t *testing.T) {
	p, srv := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/1/boards/board-1/lists":
			w.Write([]byte(`[]`))
		case r.Method == http.MethodPost && r.URL.Path == "/1/lists":
			if r.URL.Query().Get("name") != "Brainstorm" {
				t.Errorf("name = %q, want Brainstorm", r.URL.Query().Get("name"))
			}
			w.Write([]byte(`{"id":"list-new","name":"Brainstorm"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/1/cards":
			w.Write([]byte(`{"id":"card-1"}`))
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	})
	defer srv.Close()

	_, err := p.CreateCard(context.Background(), kanban.Card{ID: "local-1", ListName: "Brainstorm", Title: "x"})
	if err != nil {
		t.Fatalf("CreateCard: %v", err)
	}
}

func TestMoveCard_PropagatesNon2xxAsError(t *testing.T) {
	p, srv := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/1/boards/board-1/lists" {
			w.Write([]byte(`[{"id":"list-1","name":"Em Revisão"}]`))
			return
		}
		w.WriteHeader(http.StatusForbidden)
	})
	defer srv.Close()

	if err := p.MoveCard(context.Background(), "card-1", "Em Revisão"); err == nil {
		t.Fatalf("expected an error when Trello returns 403")
	}
}
