package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"animehub-be/internal/metrics"
	"animehub-be/internal/session"
	"animehub-be/internal/store/memstore"
	"animehub-be/internal/upload"
	"animehub-be/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type env struct {
	t   *testing.T
	srv *httptest.Server
	svc *Services
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	svc := NewServices(memstore.New(),
		session.NewManager(session.NewMemoryStore(), "test-secret", time.Hour),
		upload.NewStore(upload.NewDisk(t.TempDir())), zap.NewNop())
	engine, _, err := NewEngine(svc, HTTPOptions{
		Dev:            true,
		CORSOrigin:     "http://localhost:5500",
		WSMessageRPS:   50,
		WSMessageBurst: 50,
		Metrics:        metrics.New(reg),
		Gatherer:       reg,
	}, zap.NewNop())
	require.NoError(t, err)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return &env{t: t, srv: srv, svc: svc}
}

func (e *env) do(method, path, token string, body io.Reader, contentType string) *http.Response {
	e.t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(e.t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// call sends in as JSON and decodes the response into out when out is set.
func (e *env) call(method, path, token string, in, out any) int {
	e.t.Helper()
	var body io.Reader
	ct := ""
	if in != nil {
		b, err := json.Marshal(in)
		require.NoError(e.t, err)
		body, ct = bytes.NewReader(b), "application/json"
	}
	resp := e.do(method, path, token, body, ct)
	if out != nil {
		require.NoError(e.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type userOut struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (e *env) signup(name string) (token, id string) {
	e.t.Helper()
	require.Equal(e.t, http.StatusCreated, e.call(http.MethodPost, "/api/auth/signup", "", map[string]string{
		"username": name, "email": name + "@example.com", "password": "secret123",
	}, nil))
	var login struct {
		Token string  `json:"token"`
		User  userOut `json:"user"`
	}
	require.Equal(e.t, http.StatusOK, e.call(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": name + "@example.com", "password": "secret123",
	}, &login))
	require.NotEmpty(e.t, login.Token)
	return login.Token, login.User.ID
}

type errorOut struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func multipartBody(t *testing.T, fields map[string]string, fileField, fileName, fileType string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if fileField != "" {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="`+fileField+`"; filename="`+fileName+`"`)
		h.Set("Content-Type", fileType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

type messageOut struct {
	ID       string   `json:"id"`
	SenderID string   `json:"senderId"`
	Content  string   `json:"content"`
	Status   string   `json:"status"`
	ReadBy   []string `json:"readBy"`
}

func TestDirectConversationFlow(t *testing.T) {
	e := newEnv(t)
	tokA, idA := e.signup("alice")
	tokB, idB := e.signup("bob")
	tokC, _ := e.signup("carol")

	var conv struct {
		ID string `json:"id"`
	}
	require.Equal(t, http.StatusOK, e.call(http.MethodPost, "/api/conversations", tokA, map[string]string{"otherUserId": idB}, &conv))
	var again struct {
		ID string `json:"id"`
	}
	require.Equal(t, http.StatusOK, e.call(http.MethodPost, "/api/conversations", tokB, map[string]string{"otherUserId": idA}, &again))
	assert.Equal(t, conv.ID, again.ID)

	var sent messageOut
	require.Equal(t, http.StatusCreated, e.call(http.MethodPost, "/api/conversations/"+conv.ID+"/messages", tokA, map[string]string{"content": "hello"}, &sent))
	assert.Equal(t, "hello", sent.Content)
	assert.Equal(t, "sent", sent.Status)
	assert.Equal(t, []string{idA}, sent.ReadBy)

	var page struct {
		Messages    []messageOut `json:"messages"`
		CurrentPage int          `json:"currentPage"`
		HasMore     bool         `json:"hasMore"`
	}
	require.Equal(t, http.StatusOK, e.call(http.MethodGet, "/api/conversations/"+conv.ID+"/messages?page=1&limit=10", tokB, nil, &page))
	require.Len(t, page.Messages, 1)
	assert.Equal(t, sent.ID, page.Messages[0].ID)
	assert.Equal(t, 1, page.CurrentPage)
	assert.False(t, page.HasMore)

	var denied errorOut
	assert.Equal(t, http.StatusForbidden, e.call(http.MethodGet, "/api/conversations/"+conv.ID+"/messages", tokC, nil, &denied))
	assert.Equal(t, "forbidden", denied.Error.Code)

	var read messageOut
	require.Equal(t, http.StatusOK, e.call(http.MethodPatch, "/api/messages/"+sent.ID+"/read", tokB, nil, &read))
	assert.Equal(t, "read", read.Status)
	assert.ElementsMatch(t, []string{idA, idB}, read.ReadBy)

	var list struct {
		Data []struct {
			ID          string      `json:"id"`
			LastMessage *messageOut `json:"lastMessage"`
		} `json:"data"`
	}
	require.Equal(t, http.StatusOK, e.call(http.MethodGet, "/api/conversations", tokB, nil, &list))
	require.Len(t, list.Data, 1)
	require.NotNil(t, list.Data[0].LastMessage)
	assert.Equal(t, sent.ID, list.Data[0].LastMessage.ID)

	assert.Equal(t, http.StatusForbidden, e.call(http.MethodDelete, "/api/messages/"+sent.ID, tokB, nil, nil))
	var ok struct {
		Success bool `json:"success"`
	}
	require.Equal(t, http.StatusOK, e.call(http.MethodDelete, "/api/messages/"+sent.ID, tokA, nil, &ok))
	assert.True(t, ok.Success)
	assert.Equal(t, http.StatusNotFound, e.call(http.MethodDelete, "/api/messages/"+sent.ID, tokA, nil, nil))
}

func TestErrorShape(t *testing.T) {
	e := newEnv(t)

	var out errorOut
	assert.Equal(t, http.StatusUnauthorized, e.call(http.MethodGet, "/api/conversations", "", nil, &out))
	assert.Equal(t, "unauthenticated", out.Error.Code)

	tok, _ := e.signup("alice")
	out = errorOut{}
	assert.Equal(t, http.StatusBadRequest, e.call(http.MethodGet, "/api/conversations/not-a-uuid/messages", tok, nil, &out))
	assert.Equal(t, "validation", out.Error.Code)

	out = errorOut{}
	assert.Equal(t, http.StatusNotFound, e.call(http.MethodPost, "/api/conversations", tok,
		map[string]string{"otherUserId": "8d4c7f2e-3b7a-4a0e-9f59-2b1c0a6d9e11"}, &out))
	assert.Equal(t, "not_found", out.Error.Code)

	out = errorOut{}
	assert.Equal(t, http.StatusConflict, e.call(http.MethodPost, "/api/auth/signup", "", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "secret123",
	}, &out))
	assert.Equal(t, "conflict", out.Error.Code)

	out = errorOut{}
	assert.Equal(t, http.StatusBadRequest, e.call(http.MethodPost, "/api/auth/signup", "", map[string]string{
		"username": "x", "email": "x@example.com", "password": "secret123",
	}, &out))
	assert.Equal(t, "validation", out.Error.Code)
}

func TestSessionCookieAndLogout(t *testing.T) {
	e := newEnv(t)
	tok, id := e.signup("alice")

	resp := e.do(http.MethodPost, "/api/auth/login", "",
		strings.NewReader(`{"email":"alice@example.com","password":"secret123"}`), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == session.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/api/auth/me", nil)
	require.NoError(t, err)
	req.AddCookie(cookie)
	me, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer me.Body.Close()
	var u userOut
	require.NoError(t, json.NewDecoder(me.Body).Decode(&u))
	assert.Equal(t, id, u.ID)

	require.Equal(t, http.StatusOK, e.call(http.MethodPost, "/api/auth/logout", tok, nil, nil))
	assert.Equal(t, http.StatusUnauthorized, e.call(http.MethodGet, "/api/auth/me", tok, nil, nil))

	var bad errorOut
	assert.Equal(t, http.StatusUnauthorized, e.call(http.MethodPost, "/api/auth/login", "",
		map[string]string{"email": "alice@example.com", "password": "wrong-pass"}, &bad))
	assert.Equal(t, "invalid email or password", bad.Error.Message)
}

func TestGroupFlow(t *testing.T) {
	e := newEnv(t)
	tokA, _ := e.signup("alice")
	tokB, idB := e.signup("bob")
	tokC, _ := e.signup("carol")

	var g struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Members []struct {
			ID string `json:"id"`
		} `json:"members"`
	}
	require.Equal(t, http.StatusCreated, e.call(http.MethodPost, "/api/groups", tokA,
		map[string]any{"name": "Watch party", "members": []string{idB}}, &g))
	assert.Equal(t, "Watch party", g.Name)
	assert.Len(t, g.Members, 2)

	require.Equal(t, http.StatusCreated, e.call(http.MethodPost, "/api/groups/"+g.ID+"/messages", tokB, map[string]string{"content": "hi all"}, nil))
	assert.Equal(t, http.StatusForbidden, e.call(http.MethodPost, "/api/groups/"+g.ID+"/messages", tokC, map[string]string{"content": "let me in"}, nil))
	assert.Equal(t, http.StatusForbidden, e.call(http.MethodPut, "/api/groups/"+g.ID, tokB, map[string]string{"name": "Mine now"}, nil))

	var groups struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.Equal(t, http.StatusOK, e.call(http.MethodGet, "/api/groups", tokB, nil, &groups))
	require.Len(t, groups.Data, 1)

	require.Equal(t, http.StatusOK, e.call(http.MethodDelete, "/api/groups/"+g.ID, tokA, nil, nil))
	assert.Equal(t, http.StatusNotFound, e.call(http.MethodGet, "/api/groups/"+g.ID, tokA, nil, nil))
}

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake-image")

func TestProfilePictureServedFromUploads(t *testing.T) {
	e := newEnv(t)
	tok, _ := e.signup("alice")

	body, ct := multipartBody(t, nil, "profilePicture", "me.png", "image/png", pngBytes)
	var out struct {
		ProfilePicture string `json:"profilePicture"`
	}
	resp := e.do(http.MethodPost, "/api/auth/profile-picture", tok, body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, strings.HasPrefix(out.ProfilePicture, "/uploads/profile-pics/"))

	got := e.do(http.MethodGet, out.ProfilePicture, "", nil, "")
	require.Equal(t, http.StatusOK, got.StatusCode)
	assert.Equal(t, "image/png", got.Header.Get("Content-Type"))
	data, err := io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)

	body, ct = multipartBody(t, nil, "profilePicture", "notes.txt", "text/plain", []byte("nope"))
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/api/auth/profile-picture", tok, body, ct).StatusCode)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/uploads/general/missing.png", "", nil, "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/uploads/secrets/x.png", "", nil, "").StatusCode)
}

func TestReviewEndpoints(t *testing.T) {
	e := newEnv(t)
	tokA, _ := e.signup("alice")
	tokB, _ := e.signup("bob")

	body, ct := multipartBody(t, map[string]string{
		"animeTitle": "Frieren", "reviewText": "Quiet and lovely.", "rating": "5",
	}, "animeImage", "cover.png", "image/png", pngBytes)
	var created struct {
		Review struct {
			ID            string `json:"id"`
			AnimeTitle    string `json:"animeTitle"`
			Rating        int    `json:"rating"`
			AnimeImageURL string `json:"animeImageUrl"`
		} `json:"review"`
	}
	resp := e.do(http.MethodPost, "/api/reviews", tokA, body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, 5, created.Review.Rating)
	assert.True(t, strings.HasPrefix(created.Review.AnimeImageURL, "/uploads/review-images/"))

	body, ct = multipartBody(t, map[string]string{"animeTitle": "X", "reviewText": "Y", "rating": "9"}, "", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/api/reviews", tokA, body, ct).StatusCode)

	var all []struct {
		ID string `json:"id"`
	}
	require.Equal(t, http.StatusOK, e.call(http.MethodGet, "/api/reviews", "", nil, &all))
	require.Len(t, all, 1)

	var mine []struct {
		ID string `json:"id"`
	}
	require.Equal(t, http.StatusOK, e.call(http.MethodGet, "/api/reviews/my", tokB, nil, &mine))
	assert.Empty(t, mine)

	assert.Equal(t, http.StatusForbidden, e.call(http.MethodDelete, "/api/reviews/"+created.Review.ID, tokB, nil, nil))
	require.Equal(t, http.StatusOK, e.call(http.MethodDelete, "/api/reviews/"+created.Review.ID, tokA, nil, nil))
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, created.Review.AnimeImageURL, "", nil, "").StatusCode)
}

func TestWebsocketReceivesHTTPMessages(t *testing.T) {
	e := newEnv(t)
	tokA, _ := e.signup("alice")
	tokB, idB := e.signup("bob")

	var conv struct {
		ID string `json:"id"`
	}
	require.Equal(t, http.StatusOK, e.call(http.MethodPost, "/api/conversations", tokA, map[string]string{"otherUserId": idB}, &conv))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(e.srv.URL, "http")+"/ws", nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(e.srv.URL, "http")+"/ws?token="+tokB, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.NoError(t, wsjson.Write(ctx, conn, ws.Event{Type: ws.EventJoinChat, Data: conv.ID}))
	var ev struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	require.Equal(t, ws.EventJoined, ev.Type)

	require.Equal(t, http.StatusCreated, e.call(http.MethodPost, "/api/conversations/"+conv.ID+"/messages", tokA, map[string]string{"content": "over http"}, nil))

	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	require.Equal(t, ws.EventReceiveMessage, ev.Type)
	var msg struct {
		Content  string `json:"content"`
		ChatID   string `json:"chatId"`
		Username string `json:"username"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &msg))
	assert.Equal(t, "over http", msg.Content)
	assert.Equal(t, conv.ID, msg.ChatID)
	assert.Equal(t, "alice", msg.Username)
}

func TestOpsEndpoints(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.call(http.MethodGet, "/healthz", "", nil, nil))

	resp := e.do(http.MethodGet, "/metrics", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), `animehub_http_requests_total{method="GET",route="/healthz",status="200"} 1`)

	req, err := http.NewRequest(http.MethodOptions, e.srv.URL+"/api/conversations", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5500")
	pre, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer pre.Body.Close()
	assert.Equal(t, http.StatusNoContent, pre.StatusCode)
	assert.Equal(t, "http://localhost:5500", pre.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", pre.Header.Get("Access-Control-Allow-Credentials"))
}
