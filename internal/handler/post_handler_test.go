package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/hitoshi/postdeck/internal/model"
	"github.com/hitoshi/postdeck/internal/post"
)

func strPtr(s string) *string { return &s }

func TestListPosts_ResponseShape(t *testing.T) {
	env := newTestEnv(t)
	scheduled := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	env.posts.listFn = func(_ context.Context, caller *model.SessionUser) ([]model.PostWithComments, error) {
		return []model.PostWithComments{
			{
				Post: model.Post{
					ID: "p-1", Title: "Launch", Platform: "instagram", ScheduledAt: &scheduled,
					Status: model.PostStatusReview, ClientID: strPtr(caller.ID),
				},
				Comments: []model.Comment{{ID: "c-1", PostID: "p-1", Body: "Nice", AuthorUsername: "acme"}},
			},
			{Post: model.Post{ID: "p-2", Title: "Unscheduled", Status: model.PostStatusDraft}},
		}, nil
	}

	w := env.do(t, http.MethodGet, "/api/posts", env.loginAs(t, testClient7), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	posts, _ := decodeBody(t, w)["posts"].([]any)
	if len(posts) != 2 {
		t.Fatalf("posts = %v", posts)
	}
	first := posts[0].(map[string]any)
	if first["scheduled_at"] != "2026-03-01T08:00:00Z" || first["status"] != "review" {
		t.Errorf("first = %v", first)
	}
	if first["client_id"] != testClient7.ID {
		t.Errorf("client_id = %v", first["client_id"])
	}
	comments, _ := first["comments"].([]any)
	if len(comments) != 1 || comments[0].(map[string]any)["body"] != "Nice" {
		t.Errorf("comments = %v", comments)
	}

	second := posts[1].(map[string]any)
	if second["scheduled_at"] != nil || second["client_id"] != nil {
		t.Errorf("unscheduled post should have null fields: %v", second)
	}
	if media, ok := second["media"].([]any); !ok || len(media) != 0 {
		t.Errorf("media = %v, want []", second["media"])
	}
	if c, ok := second["comments"].([]any); !ok || len(c) != 0 {
		t.Errorf("comments = %v, want []", second["comments"])
	}
}

func TestListPosts_Anonymous(t *testing.T) {
	env := newTestEnv(t)
	called := false
	env.posts.listFn = func(context.Context, *model.SessionUser) ([]model.PostWithComments, error) {
		called = true
		return nil, nil
	}

	assertError(t, env.do(t, http.MethodGet, "/api/posts", "", nil), http.StatusUnauthorized, "Unauthorized")
	if called {
		t.Error("service must not be called for anonymous requests")
	}
}

func TestListPosts_StorageErrorIs400WithMessage(t *testing.T) {
	env := newTestEnv(t)
	env.posts.listFn = func(context.Context, *model.SessionUser) ([]model.PostWithComments, error) {
		return nil, model.NewStorageError(errors.New(`pq: column "copy" does not exist`))
	}

	w := env.do(t, http.MethodGet, "/api/posts", env.loginAs(t, testAdmin), nil)
	assertError(t, w, http.StatusBadRequest, `pq: column "copy" does not exist`)
}

func TestCreatePost_MapsPayload(t *testing.T) {
	env := newTestEnv(t)
	var got post.CreateInput
	env.posts.createFn = func(_ context.Context, _ *model.SessionUser, in post.CreateInput) (*model.Post, error) {
		got = in
		return &model.Post{ID: "p-9", Title: in.Title, Status: model.PostStatusDraft}, nil
	}
	payload := map[string]any{
		"title":        "Launch",
		"platform":     "linkedin",
		"scheduled_at": "2026-03-01T08:00:00.000Z",
		"status":       "review",
		"copy":         "Hello",
		"assets":       "logo",
		"media":        []string{"https://cdn/a.png"},
		"client_id":    testClient7.ID,
	}

	w := env.do(t, http.MethodPost, "/api/posts", env.loginAs(t, testAdmin), payload)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["ok"] != true {
		t.Errorf("body = %v", body)
	}
	if p, _ := body["post"].(map[string]any); p["id"] != "p-9" {
		t.Errorf("post = %v", body["post"])
	}
	if got.Title != "Launch" || got.ScheduledAt != "2026-03-01T08:00:00.000Z" || got.ClientID != testClient7.ID || len(got.Media) != 1 {
		t.Errorf("input = %+v", got)
	}
}

func TestCreatePost_NullOptionalFields(t *testing.T) {
	env := newTestEnv(t)
	var got post.CreateInput
	env.posts.createFn = func(_ context.Context, _ *model.SessionUser, in post.CreateInput) (*model.Post, error) {
		got = in
		return &model.Post{ID: "p-9"}, nil
	}

	w := env.do(t, http.MethodPost, "/api/posts", env.loginAs(t, testAdmin), map[string]any{
		"title": "Launch", "scheduled_at": nil, "client_id": nil,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got.ScheduledAt != "" || got.ClientID != "" {
		t.Errorf("input = %+v", got)
	}
}

func TestCreatePost_ClientForbidden(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/posts", env.loginAs(t, testClient7), map[string]string{"title": "x"})
	assertError(t, w, http.StatusForbidden, "Unauthorized")
}

func TestUpdatePostStatus(t *testing.T) {
	env := newTestEnv(t)
	var gotID, gotStatus string
	env.posts.updateStatusFn = func(_ context.Context, caller *model.SessionUser, postID, status string) error {
		gotID, gotStatus = postID, status
		switch {
		case postID == "owned-by-9":
			return model.NewForbiddenError()
		case status == "published":
			return model.NewValidationError("Invalid status")
		case postID == "missing":
			return model.NewPostNotFoundError()
		}
		return nil
	}
	token := env.loginAs(t, testClient7)

	w := env.do(t, http.MethodPatch, "/api/posts/p-1", token, map[string]string{"status": "approved"})
	if w.Code != http.StatusOK || decodeBody(t, w)["ok"] != true {
		t.Fatalf("status = %d", w.Code)
	}
	if gotID != "p-1" || gotStatus != "approved" {
		t.Errorf("got %s %s", gotID, gotStatus)
	}

	assertError(t, env.do(t, http.MethodPatch, "/api/posts/owned-by-9", token, map[string]string{"status": "approved"}), http.StatusForbidden, "Unauthorized")
	assertError(t, env.do(t, http.MethodPatch, "/api/posts/p-1", token, map[string]string{"status": "published"}), http.StatusBadRequest, "Invalid status")
	assertError(t, env.do(t, http.MethodPatch, "/api/posts/missing", token, map[string]string{"status": "approved"}), http.StatusNotFound, "Post not found")
}

func TestDeletePost_Gate(t *testing.T) {
	env := newTestEnv(t)
	deleted := ""
	env.posts.deleteFn = func(_ context.Context, _ *model.SessionUser, postID string) error {
		deleted = postID
		return nil
	}

	assertError(t, env.do(t, http.MethodDelete, "/api/posts/p-1", env.loginAs(t, testClient7), nil), http.StatusForbidden, "Unauthorized")
	if deleted != "" {
		t.Fatal("client must not reach the delete service")
	}

	w := env.do(t, http.MethodDelete, "/api/posts/p-1", env.loginAs(t, testAdmin), nil)
	if w.Code != http.StatusOK || deleted != "p-1" {
		t.Errorf("status = %d, deleted = %q", w.Code, deleted)
	}
}
