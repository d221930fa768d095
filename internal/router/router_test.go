package router

import (
	"encoding/json"
	"fmt"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"
	"go.uber.org/zap/zaptest"
	"io"
	"net/http"
	"net/http/httptest"
	"openline/internal/gateway"
	"openline/internal/router/handlers"
	"openline/internal/service"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	opinionID = "9c30f864-9499-4d57-9a2b-fd2c2d427532"
	userID    = "66666666-7777-8888-9999-000000000000"
	commentA  = "aaaaaaaa-0000-0000-0000-000000000001"
	commentB  = "bbbbbbbb-0000-0000-0000-000000000002"
	commentC  = "cccccccc-0000-0000-0000-000000000003"
)

// backend mimics the REST service the gateway talks to.
type backend struct {
	mu          sync.Mutex
	likes       map[string]int
	failReacts  bool
	lastCreated map[string]any
	texts       map[string]string
	replies     []string
}

func newBackend() *backend {
	return &backend{
		likes: map[string]int{opinionID: 5, commentA: 10, commentB: 20, commentC: 1},
		texts: make(map[string]string),
	}
}

func (b *backend) commentJSON(id, parent string) string {
	p := "null"
	if parent != "" {
		p = `"` + parent + `"`
	}
	return fmt.Sprintf(`{"id":"%s","opinionId":"%s","userId":"%s","text":"text of %s",
		"timestamp":"2025-06-01T10:00:00+00:00","likes":%d,"dislikes":0,"parentCommentId":%s}`,
		id, opinionID, userID, id[:4], b.likes[id], p)
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /opinions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != opinionID {
			http.NotFound(w, r)
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		fmt.Fprintf(w, `{"id":"%s","itemId":"%s","userId":"%s","text":"**Pineapple** belongs on pizza",
			"timestamp":"2025-06-01T09:00:00+02:00","likes":%d,"dislikes":1}`, opinionID, uuid.NewString(), userID, b.likes[opinionID])
	})
	// /comments/opinion/{id} and /comments/{id}/replies overlap as mux patterns.
	mux.HandleFunc("GET /comments/{first}/{second}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		switch {
		case r.PathValue("first") == "opinion":
			io.WriteString(w, "["+b.commentJSON(commentA, "")+","+b.commentJSON(commentB, "")+","+b.commentJSON(commentC, commentA)+"]")
		case r.PathValue("second") == "likes":
			fmt.Fprintf(w, `{"likes":%d}`, b.likes[r.PathValue("first")])
		case r.PathValue("second") == "dislikes":
			io.WriteString(w, `{"dislikes":0}`)
		case r.PathValue("second") != "replies":
			http.NotFound(w, r)
		case r.PathValue("first") == commentA:
			io.WriteString(w, "["+b.commentJSON(commentC, commentA)+"]")
		default:
			io.WriteString(w, "[]")
		}
	})
	mux.HandleFunc("GET /comments/{id}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		io.WriteString(w, b.commentJSON(r.PathValue("id"), ""))
	})
	mux.HandleFunc("POST /comments/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.lastCreated = body
		b.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `[{"id":"%s","opinionId":"%s","userId":"%s","text":%q,"timestamp":"2025-06-01T10:00:00Z"}]`,
			uuid.NewString(), opinionID, userID, body["text"])
	})
	mux.HandleFunc("PUT /comments/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		defer b.mu.Unlock()
		b.texts[r.PathValue("id")] = body.Text
		fmt.Fprintf(w, `{"id":"%s","opinionId":"%s","userId":"%s","text":%q,"timestamp":"2025-06-01T10:00:00Z","likes":%d,"dislikes":0}`,
			r.PathValue("id"), opinionID, userID, body.Text, b.likes[r.PathValue("id")])
	})
	mux.HandleFunc("POST /opinions/{id}/reply", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		defer b.mu.Unlock()
		b.replies = append(b.replies, body.Text)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("DELETE /comments/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != commentB {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	react := func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Like bool `json:"like"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.failReacts {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if body.Like {
			b.likes[r.PathValue("id")]++
		}
		w.WriteHeader(http.StatusOK)
	}
	mux.HandleFunc("POST /opinions/{id}/react", react)
	mux.HandleFunc("POST /comments/{id}/react", react)
	mux.HandleFunc("GET /users/{id}/name", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != userID {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"name":"Ballerina Cappuccina"}`)
	})
	return mux
}

func setup(t *testing.T) (*backend, http.Handler) {
	t.Helper()
	be := newBackend()
	srv := httptest.NewServer(be.handler())
	t.Cleanup(srv.Close)

	log := zaptest.NewLogger(t)
	gw := gateway.NewClient(gateway.Options{
		BaseURL: srv.URL,
		Timeout: time.Second,
		Retry:   retry.Strategy{Attempts: 1},
	}, log)
	feed, err := service.NewFeed(gw, service.Options{}, log)
	require.NoError(t, err)
	t.Cleanup(feed.Close)

	return be, NewRouter("test", handlers.NewFeedHandler(feed), log).GetEngine()
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestGetThread(t *testing.T) {
	_, h := setup(t)

	code, body := do(t, h, http.MethodGet, "/opinions/"+opinionID+"/thread?sort=top&format=html", "")
	require.Equal(t, http.StatusOK, code)

	comments := body["comments"].([]any)
	require.Len(t, comments, 2)
	first := comments[0].(map[string]any)
	assert.Equal(t, commentB, first["id"])
	assert.Equal(t, commentA, comments[1].(map[string]any)["id"])
	assert.EqualValues(t, 1, comments[1].(map[string]any)["reply_count"])

	replies := body["replies"].(map[string]any)
	assert.Len(t, replies[commentA], 1)
	assert.NotContains(t, replies, uuid.Nil.String())

	opinion := body["opinion"].(map[string]any)
	assert.Contains(t, opinion["html"], "<strong>Pineapple</strong>")
	assert.Equal(t, "top", body["sort"])
}

func TestGetThreadErrors(t *testing.T) {
	_, h := setup(t)

	code, _ := do(t, h, http.MethodGet, "/opinions/not-a-uuid/thread", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, h, http.MethodGet, "/opinions/"+opinionID+"/thread?sort=oldest", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := do(t, h, http.MethodGet, "/opinions/"+uuid.NewString()+"/thread", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", body["kind"])
}

func TestGetReplies(t *testing.T) {
	_, h := setup(t)

	code, body := do(t, h, http.MethodGet, "/opinions/"+opinionID+"/comments/"+commentA+"/replies", "")
	require.Equal(t, http.StatusOK, code)
	replies := body["replies"].([]any)
	require.Len(t, replies, 1)
	assert.Equal(t, commentC, replies[0].(map[string]any)["id"])
}

func TestReactToComment(t *testing.T) {
	_, h := setup(t)
	code, _ := do(t, h, http.MethodGet, "/opinions/"+opinionID+"/thread", "")
	require.Equal(t, http.StatusOK, code)

	code, body := do(t, h, http.MethodPost, "/comments/"+commentA+"/react", `{"like":true}`)
	require.Equal(t, http.StatusOK, code)
	outcome := body["outcome"].(map[string]any)
	assert.EqualValues(t, 11, outcome["counts"].(map[string]any)["likes"])
	assert.Equal(t, "agree", outcome["choice"])

	code, body = do(t, h, http.MethodGet, "/reactions/comment/"+commentA, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["can_disagree"])
	assert.Equal(t, "agree", body["reaction"].(map[string]any)["choice"])
}

func TestReactFailureReportsPriorCounts(t *testing.T) {
	be, h := setup(t)
	code, _ := do(t, h, http.MethodGet, "/opinions/"+opinionID+"/thread", "")
	require.Equal(t, http.StatusOK, code)
	be.mu.Lock()
	be.failReacts = true
	be.mu.Unlock()

	code, body := do(t, h, http.MethodPost, "/opinions/"+opinionID+"/react", `{"like":true}`)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "server_error", body["kind"])
	outcome := body["outcome"].(map[string]any)
	assert.EqualValues(t, 5, outcome["counts"].(map[string]any)["likes"])
	assert.Equal(t, "none", outcome["choice"])
}

func TestReactBadBody(t *testing.T) {
	_, h := setup(t)
	code, _ := do(t, h, http.MethodPost, "/comments/"+commentA+"/react", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCreateComment(t *testing.T) {
	be, h := setup(t)

	code, body := do(t, h, http.MethodPost, "/opinions/"+opinionID+"/comments",
		`{"user_id":"`+userID+`","text":" <i>agreed</i> ","parent_comment_id":"`+commentA+`"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "agreed", body["comment"].(map[string]any)["text"])

	be.mu.Lock()
	defer be.mu.Unlock()
	assert.Equal(t, commentA, be.lastCreated["parentCommentId"])
	assert.Equal(t, opinionID, be.lastCreated["opinionId"])
}

func TestCreateCommentValidation(t *testing.T) {
	_, h := setup(t)

	code, _ := do(t, h, http.MethodPost, "/opinions/"+opinionID+"/comments", `{"user_id":"nope","text":"x"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := do(t, h, http.MethodPost, "/opinions/"+opinionID+"/comments", `{"user_id":"`+userID+`","text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, service.ErrEmptyComment.Error(), body["error"])
}

func TestDeleteComment(t *testing.T) {
	_, h := setup(t)

	code, body := do(t, h, http.MethodDelete, "/comments/"+commentB, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, commentB, body["id"])

	code, body = do(t, h, http.MethodDelete, "/comments/"+commentC, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", body["kind"])
}

func TestUpdateComment(t *testing.T) {
	be, h := setup(t)

	code, body := do(t, h, http.MethodPut, "/comments/"+commentA, `{"text":"<b>second</b> thoughts"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "second thoughts", body["comment"].(map[string]any)["text"])

	be.mu.Lock()
	assert.Equal(t, "second thoughts", be.texts[commentA])
	be.mu.Unlock()

	code, _ = do(t, h, http.MethodPut, "/comments/"+commentA, `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestReplyToOpinion(t *testing.T) {
	be, h := setup(t)

	code, body := do(t, h, http.MethodPost, "/opinions/"+opinionID+"/reply", `{"text":"hard disagree"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, opinionID, body["opinion_id"])

	be.mu.Lock()
	defer be.mu.Unlock()
	assert.Equal(t, []string{"hard disagree"}, be.replies)
}

func TestReactBeforeThreadLoad(t *testing.T) {
	be, h := setup(t)
	be.mu.Lock()
	be.failReacts = true
	be.mu.Unlock()

	code, body := do(t, h, http.MethodPost, "/comments/"+commentB+"/react", `{"like":true}`)
	assert.Equal(t, http.StatusBadGateway, code)
	outcome := body["outcome"].(map[string]any)
	assert.EqualValues(t, 20, outcome["counts"].(map[string]any)["likes"])
}

func TestGetUserName(t *testing.T) {
	_, h := setup(t)

	code, body := do(t, h, http.MethodGet, "/users/"+userID+"/name", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Ballerina Cappuccina", body["name"])

	code, body = do(t, h, http.MethodGet, "/users/"+uuid.NewString()+"/name", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, service.UnknownUser, body["name"])
	assert.Equal(t, false, body["known"])
}

func TestHealthz(t *testing.T) {
	_, h := setup(t)
	code, body := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}
