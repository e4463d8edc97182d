package libraries

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/yungbote/coursestore-backend/internal/keys"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Token: "svc-token", MaxRetries: 2}, logger.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestGetBlockMergesFields(t *testing.T) {
	key := keys.LibraryUsageKey{Lib: keys.LibraryKey{Org: "org", Slug: "mylib"}, BlockType: "problem", BlockID: "p1"}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/libraries/v2/blocks/"+key.String()+"/", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get(UserHeader); got != "author" {
			t.Errorf("%s header: want=author got=%q", UserHeader, got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer svc-token" {
			t.Errorf("Authorization: want=Bearer svc-token got=%q", got)
		}
		writeJSON(w, map[string]any{"id": key.String(), "block_type": "problem", "display_name": "P", "published_version_num": 4})
	})
	mux.HandleFunc("/api/libraries/v2/blocks/"+key.String()+"/fields/", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("version"); got != "published" {
			t.Errorf("version: want=published got=%q", got)
		}
		writeJSON(w, map[string]any{"display_name": "Problem One", "data": "<problem/>", "metadata": map[string]any{"weight": 2}})
	})
	c := newTestClient(t, mux)

	b, err := c.GetBlock(context.Background(), "author", key)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if b.PublishedVersion == nil || *b.PublishedVersion != 4 {
		t.Fatalf("PublishedVersion: want=4 got=%v", b.PublishedVersion)
	}
	if b.Fields["display_name"] != "Problem One" || b.Fields["data"] != "<problem/>" {
		t.Fatalf("Fields: got=%v", b.Fields)
	}
	if w, _ := b.Fields["weight"].(float64); w != 2 {
		t.Fatalf("weight: want=2 got=%v", b.Fields["weight"])
	}
}

func TestErrorMapping(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/libraries/v2/containers/lct:org:mylib:unit:missing/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/api/libraries/v2/containers/lct:org:mylib:unit:secret/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/api/libraries/v2/containers/lct:org:mylib:unit:flaky/", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"container_type": "unit", "display_name": "Unit", "published_version_num": 1})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()
	unit := func(id string) keys.LibraryContainerKey {
		return keys.LibraryContainerKey{Lib: keys.LibraryKey{Org: "org", Slug: "mylib"}, ContainerType: "unit", ContainerID: id}
	}

	if _, err := c.GetContainer(ctx, "author", unit("missing")); !errors.Is(err, storeerr.ErrNotFound) {
		t.Fatalf("missing: want=%v got=%v", storeerr.ErrNotFound, err)
	}
	if _, err := c.GetContainer(ctx, "author", unit("secret")); !errors.Is(err, storeerr.ErrPermissionDenied) {
		t.Fatalf("secret: want=%v got=%v", storeerr.ErrPermissionDenied, err)
	}
	lc, err := c.GetContainer(ctx, "author", unit("flaky"))
	if err != nil {
		t.Fatalf("flaky: %v", err)
	}
	if lc.DisplayName != "Unit" || calls.Load() != 2 {
		t.Fatalf("flaky: want one retry, got calls=%d container=%+v", calls.Load(), lc)
	}
}

func TestGetContainerChildren(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/libraries/v2/containers/lct:org:mylib:unit:u1/children/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("published") != "true" {
			t.Errorf("published query missing: %s", r.URL.RawQuery)
		}
		writeJSON(w, []map[string]any{
			{"id": "lb:org:mylib:html:a", "display_name": "A"},
			{"id": "lb:org:mylib:video:b", "display_name": "B"},
		})
	})
	c := newTestClient(t, mux)
	key := keys.LibraryContainerKey{Lib: keys.LibraryKey{Org: "org", Slug: "mylib"}, ContainerType: "unit", ContainerID: "u1"}
	children, err := c.GetContainerChildren(context.Background(), "author", key, true)
	if err != nil {
		t.Fatalf("GetContainerChildren: %v", err)
	}
	if len(children) != 2 || children[0].Ref != "lb:org:mylib:html:a" || children[1].DisplayName != "B" {
		t.Fatalf("children: got=%+v", children)
	}
}
