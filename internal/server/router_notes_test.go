package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/MarcoPoloResearchLab/pds/internal/notebook"
	"github.com/MarcoPoloResearchLab/pds/internal/snowflake"
)

func createTag(t *testing.T, server testServer, name string) notebook.Tag {
	t.Helper()
	recorder := server.do(t, http.MethodPost, "/tags", map[string]any{"name": name})
	expectStatus(t, recorder, http.StatusCreated)
	return decodeBody[notebook.Tag](t, recorder).Data
}

func createNote(t *testing.T, server testServer, fields map[string]any) notebook.Note {
	t.Helper()
	recorder := server.do(t, http.MethodPost, "/notes", map[string]any{"fields": fields})
	expectStatus(t, recorder, http.StatusCreated)
	return decodeBody[notebook.Note](t, recorder).Data
}

func TestCreateNoteAssignsIDAndTimestamps(t *testing.T) {
	server := newTestServer(t, nil)

	created := createNote(t, server, map[string]any{"title": "", "tags": []int64{}})
	if created.ID == 0 {
		t.Fatalf("expected a server assigned id")
	}
	expectedTimestamp := testNow.Format(timestampLayout)
	if created.CreatedAt != expectedTimestamp || created.LastModifiedAt != expectedTimestamp {
		t.Fatalf("unexpected timestamps %q %q", created.CreatedAt, created.LastModifiedAt)
	}
	if created.Fields.Title == nil || *created.Fields.Title != "" {
		t.Fatalf("expected empty title to be preserved, got %v", created.Fields.Title)
	}
	if created.Fields.Tags == nil {
		t.Fatalf("expected empty tag list to be preserved")
	}
	if created.Fields.Body != nil {
		t.Fatalf("expected absent body to stay absent")
	}

	stored, found := server.notebook.Note(created.ID)
	if !found {
		t.Fatalf("expected note %d to be stored", created.ID)
	}
	if stored.CreatedAt != expectedTimestamp {
		t.Fatalf("unexpected stored created_at %q", stored.CreatedAt)
	}

	fetched := server.do(t, http.MethodGet, fmt.Sprintf("/notes/%d", created.ID), nil)
	expectStatus(t, fetched, http.StatusOK)
	if decodeBody[notebook.Note](t, fetched).Data.ID != created.ID {
		t.Fatalf("expected fetched note to match created note")
	}
}

func TestCreateNoteRejectsMissingFields(t *testing.T) {
	server := newTestServer(t, nil)

	expectStatus(t, server.do(t, http.MethodPost, "/notes", map[string]any{}), http.StatusBadRequest)
	expectStatus(t, server.do(t, http.MethodPost, "/notes", "{not json"), http.StatusBadRequest)
	expectStatus(t, server.do(t, http.MethodPost, "/notes", map[string]any{
		"fields": map[string]any{"when": map[string]any{"timestamp": "2026-01-01T00:00:00Z", "precision": "fortnight"}},
	}), http.StatusBadRequest)

	if len(server.notebook.Notes()) != 0 {
		t.Fatalf("expected no notes after rejected requests")
	}
}

func TestNoteRoutesRejectInvalidIDs(t *testing.T) {
	server := newTestServer(t, nil)

	for _, path := range []string{"/notes/abc", "/notes/-1", "/tags/1.5", "/feeds/x/contents"} {
		recorder := server.do(t, http.MethodGet, path, nil)
		expectStatus(t, recorder, http.StatusBadRequest)
	}
}

func TestUpdateNote(t *testing.T) {
	server := newTestServer(t, nil)
	created := createNote(t, server, map[string]any{"title": "draft"})
	path := fmt.Sprintf("/notes/%d", created.ID)

	testCases := []struct {
		name           string
		path           string
		body           map[string]any
		expectedStatus int
	}{
		{
			name: "id mismatch",
			path: path,
			body: map[string]any{
				"id":               created.ID + 1,
				"fields":           map[string]any{"title": "other"},
				"created_at":       created.CreatedAt,
				"last_modified_at": created.LastModifiedAt,
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "missing note",
			path: fmt.Sprintf("/notes/%d", created.ID+1),
			body: map[string]any{
				"id":               created.ID + 1,
				"fields":           map[string]any{"title": "ghost"},
				"created_at":       created.CreatedAt,
				"last_modified_at": created.LastModifiedAt,
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name: "missing created_at",
			path: path,
			body: map[string]any{
				"id":               created.ID,
				"fields":           map[string]any{"title": "final"},
				"last_modified_at": created.LastModifiedAt,
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "success",
			path: path,
			body: map[string]any{
				"id":               created.ID,
				"fields":           map[string]any{"title": "final"},
				"created_at":       "2025-12-31T23:00:00.000Z",
				"last_modified_at": "2025-12-31T23:00:00.000Z",
			},
			expectedStatus: http.StatusOK,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			expectStatus(t, server.do(t, http.MethodPut, testCase.path, testCase.body), testCase.expectedStatus)
		})
	}

	updated, found := server.notebook.Note(created.ID)
	if !found {
		t.Fatalf("expected note to remain stored")
	}
	if updated.Fields.Title == nil || *updated.Fields.Title != "final" {
		t.Fatalf("expected updated title, got %v", updated.Fields.Title)
	}
	if updated.CreatedAt != "2025-12-31T23:00:00.000Z" {
		t.Fatalf("expected created_at from request, got %q", updated.CreatedAt)
	}
	if updated.LastModifiedAt != testNow.Format(timestampLayout) {
		t.Fatalf("expected last_modified_at to be refreshed, got %q", updated.LastModifiedAt)
	}
}

func TestDeleteNote(t *testing.T) {
	server := newTestServer(t, nil)
	created := createNote(t, server, map[string]any{"title": "temporary"})
	path := fmt.Sprintf("/notes/%d", created.ID)

	expectStatus(t, server.do(t, http.MethodDelete, path, nil), http.StatusNoContent)
	expectStatus(t, server.do(t, http.MethodGet, path, nil), http.StatusNotFound)
	expectStatus(t, server.do(t, http.MethodDelete, path, nil), http.StatusNotFound)

	history, err := server.store.ListLog(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("failed to list log: %v", err)
	}
	if len(history) != 2 || !history[1].Deleted() {
		t.Fatalf("expected write then delete in history, got %#v", history)
	}
}

func TestNoteResponsesIncludeRelatedObjects(t *testing.T) {
	server := newTestServer(t, nil)
	work := createTag(t, server, "work")
	home := createTag(t, server, "home")
	attachmentRecorder := server.do(t, http.MethodPost, "/attachments", map[string]any{
		"hash":         "sha256:abc",
		"content_type": "image/png",
		"width":        640,
		"height":       480,
	})
	expectStatus(t, attachmentRecorder, http.StatusCreated)
	attachment := decodeBody[notebook.Attachment](t, attachmentRecorder).Data

	missingTag := snowflake.ID(1)
	createNote(t, server, map[string]any{
		"title":       "first",
		"tags":        []snowflake.ID{home.ID, work.ID, missingTag},
		"attachments": []snowflake.ID{attachment.ID},
	})
	createNote(t, server, map[string]any{
		"title":       "second",
		"tags":        []snowflake.ID{work.ID, home.ID},
		"attachments": []snowflake.ID{attachment.ID},
	})

	listed := decodeBody[[]notebook.Note](t, server.do(t, http.MethodGet, "/notes", nil))
	if len(listed.Data) != 2 {
		t.Fatalf("expected two notes, got %d", len(listed.Data))
	}
	if len(listed.Related.Tags) != 2 || listed.Related.Tags[0].ID != home.ID || listed.Related.Tags[1].ID != work.ID {
		t.Fatalf("expected related tags home then work, got %#v", listed.Related.Tags)
	}
	if len(listed.Related.Attachments) != 1 || listed.Related.Attachments[0].ID != attachment.ID {
		t.Fatalf("expected one related attachment, got %#v", listed.Related.Attachments)
	}
	if width := listed.Related.Attachments[0].Width; width == nil || *width != 640 {
		t.Fatalf("expected attachment width 640, got %v", width)
	}
}

func TestSearchNotes(t *testing.T) {
	server := newTestServer(t, nil)
	tag := createTag(t, server, "ideas")
	wanted := createNote(t, server, map[string]any{"title": "Grocery list", "tags": []snowflake.ID{tag.ID}})
	createNote(t, server, map[string]any{"title": "Grocery receipts"})
	createNote(t, server, map[string]any{"title": "Garden", "tags": []snowflake.ID{tag.ID}})

	filter := fmt.Sprintf(`{"op":"and","d":[
		{"op":"text_match","d":{"field":"title","mode":"left","text":"grocery"}},
		{"op":"tags_include","d":[%d]}
	]}`, tag.ID)
	recorder := server.do(t, http.MethodPost, "/notes/search", filter)
	expectStatus(t, recorder, http.StatusOK)

	found := decodeBody[[]notebook.Note](t, recorder)
	if len(found.Data) != 1 || found.Data[0].ID != wanted.ID {
		t.Fatalf("expected only note %d, got %#v", wanted.ID, found.Data)
	}
	if len(found.Related.Tags) != 1 || found.Related.Tags[0].Name != "ideas" {
		t.Fatalf("expected related tag, got %#v", found.Related.Tags)
	}

	expectStatus(t, server.do(t, http.MethodPost, "/notes/search", `{"op":"nope","d":null}`), http.StatusBadRequest)

	empty := decodeBody[[]notebook.Note](t, server.do(t, http.MethodPost, "/notes/search", `{"op":"not","d":{"op":"anything","d":null}}`))
	if empty.Data == nil || len(empty.Data) != 0 {
		t.Fatalf("expected an empty list, got %#v", empty.Data)
	}
}

func TestFeedLifecycleAndContents(t *testing.T) {
	server := newTestServer(t, nil)
	older := createNote(t, server, map[string]any{
		"title": "older",
		"when":  map[string]any{"timestamp": "2026-01-01T00:00:00Z", "precision": "date"},
	})
	newer := createNote(t, server, map[string]any{
		"title": "newer",
		"when":  map[string]any{"timestamp": "2026-02-01T00:00:00Z", "precision": "date"},
	})
	createNote(t, server, map[string]any{"body": "untimed"})

	feedBody := map[string]any{
		"name":     "timeline",
		"filter":   json.RawMessage(`{"op":"has_fields","d":["when"]}`),
		"origin":   "end",
		"ordering": []map[string]any{{"field": "when", "direction": "desc"}},
	}
	createdRecorder := server.do(t, http.MethodPost, "/feeds", feedBody)
	expectStatus(t, createdRecorder, http.StatusCreated)
	feed := decodeBody[notebook.Feed](t, createdRecorder).Data
	if feed.Origin != notebook.FeedOriginEnd {
		t.Fatalf("unexpected feed origin %q", feed.Origin)
	}

	contents := decodeBody[[]notebook.Note](t, server.do(t, http.MethodGet, fmt.Sprintf("/feeds/%d/contents", feed.ID), nil))
	if len(contents.Data) != 2 || contents.Data[0].ID != newer.ID || contents.Data[1].ID != older.ID {
		t.Fatalf("expected newer then older, got %#v", contents.Data)
	}

	feedBody["id"] = feed.ID
	feedBody["ordering"] = []map[string]any{{"field": "when", "direction": "asc"}}
	expectStatus(t, server.do(t, http.MethodPut, fmt.Sprintf("/feeds/%d", feed.ID), feedBody), http.StatusOK)

	reordered := decodeBody[[]notebook.Note](t, server.do(t, http.MethodGet, fmt.Sprintf("/feeds/%d/contents", feed.ID), nil))
	if len(reordered.Data) != 2 || reordered.Data[0].ID != older.ID {
		t.Fatalf("expected older first after reordering, got %#v", reordered.Data)
	}

	feedBody["origin"] = "middle"
	expectStatus(t, server.do(t, http.MethodPut, fmt.Sprintf("/feeds/%d", feed.ID), feedBody), http.StatusBadRequest)

	expectStatus(t, server.do(t, http.MethodDelete, fmt.Sprintf("/feeds/%d", feed.ID), nil), http.StatusNoContent)
	expectStatus(t, server.do(t, http.MethodGet, fmt.Sprintf("/feeds/%d/contents", feed.ID), nil), http.StatusNotFound)
}

func TestTagAndAttachmentRoutes(t *testing.T) {
	server := newTestServer(t, nil)
	tag := createTag(t, server, "draft")
	tagPath := fmt.Sprintf("/tags/%d", tag.ID)

	expectStatus(t, server.do(t, http.MethodPut, tagPath, map[string]any{"name": "final"}), http.StatusBadRequest)
	expectStatus(t, server.do(t, http.MethodPut, tagPath, map[string]any{"id": tag.ID, "name": "final"}), http.StatusOK)
	renamed := decodeBody[notebook.Tag](t, server.do(t, http.MethodGet, tagPath, nil)).Data
	if renamed.Name != "final" {
		t.Fatalf("expected renamed tag, got %q", renamed.Name)
	}

	expectStatus(t, server.do(t, http.MethodPost, "/attachments", map[string]any{"hash": "sha256:def"}), http.StatusBadRequest)

	listed := decodeBody[[]notebook.Tag](t, server.do(t, http.MethodGet, "/tags", nil))
	if len(listed.Data) != 1 {
		t.Fatalf("expected one tag, got %d", len(listed.Data))
	}

	expectStatus(t, server.do(t, http.MethodDelete, tagPath, nil), http.StatusNoContent)
	expectStatus(t, server.do(t, http.MethodGet, tagPath, nil), http.StatusNotFound)
}

func TestRoutesOnAnotherKindLeaveObjectUntouched(t *testing.T) {
	server := newTestServer(t, nil)
	tag := createTag(t, server, "shared")

	recorder := server.do(t, http.MethodPut, fmt.Sprintf("/attachments/%d", tag.ID), map[string]any{
		"id":           tag.ID,
		"hash":         "sha256:abc",
		"content_type": "text/plain",
	})
	expectStatus(t, recorder, http.StatusNotFound)

	recorder = server.do(t, http.MethodDelete, fmt.Sprintf("/notes/%d", tag.ID), nil)
	expectStatus(t, recorder, http.StatusNotFound)
	if _, found := server.notebook.Tag(tag.ID); !found {
		t.Fatalf("expected tag to survive operations on other kinds")
	}
}
