package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/prn-tf/sendme/internal/cache/memory"
	"github.com/prn-tf/sendme/internal/domain"
	"github.com/prn-tf/sendme/internal/metrics"
	"github.com/prn-tf/sendme/internal/repository/sqlite"
	"github.com/prn-tf/sendme/internal/service"
	memstore "github.com/prn-tf/sendme/internal/storage/memory"
)

type otpCapture struct {
	mu    sync.Mutex
	codes map[string]string
}

func (c *otpCapture) SendOTP(_ context.Context, username, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[username] = code
	return nil
}

func (c *otpCapture) code(username string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[username]
}

type testServer struct {
	*httptest.Server
	otp *otpCapture
	hub *Hub
}

func newTestServer(t *testing.T, quota int64) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	db, err := sqlite.NewDB(ctx, sqlite.DefaultConfig(t.TempDir()+"/sendme.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))
	repos := sqlite.NewRepositories(db)

	cache := memory.NewCache()
	t.Cleanup(cache.Stop)

	m := metrics.New(prometheus.NewRegistry())
	otp := &otpCapture{codes: make(map[string]string)}
	hub := NewHub(m, logger)
	t.Cleanup(hub.Close)

	tokens := service.NewTokenManager("handler-test-secret-handler-test-secret", time.Minute, time.Hour)
	ledger := service.NewCapacityLedger(repos.User, repos.Tx, m, logger)
	messages := service.NewMessageService(repos.Message, repos.Tx, ledger, memstore.New(), hub, m, logger,
		service.MessageConfig{UploadTimeout: 5 * time.Second, MaxUploadSize: 1 << 20})
	auth := service.NewAuthService(repos.User, repos.RefreshToken, repos.Tx, cache, tokens, otp, logger,
		service.AuthConfig{BcryptCost: bcrypt.MinCost, DefaultMaxQuota: quota})

	router := NewRouter(RouterConfig{
		AuthHandler:    NewAuthHandler(auth, ledger, logger),
		MessageHandler: NewMessageHandler(messages, 1<<20, logger),
		Hub:            hub,
		TokenParser:    auth,
		RateLimiter:    NewRateLimiter(1000, 1000),
		Health:         db,
		Metrics:        m,
		Logger:         logger,
	})

	srv := httptest.NewServer(router.Handler())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, otp: otp, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) postJSON(t *testing.T, path, token string, v any) *http.Response {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return s.do(t, http.MethodPost, path, token, bytes.NewReader(body), "application/json")
}

// login registers, verifies and logs in username, returning an access token.
func (s *testServer) login(t *testing.T, username string) string {
	t.Helper()
	creds := map[string]string{"username": username, "password": "password123"}

	resp := s.postJSON(t, "/api/v1/auth/register", "", creds)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = s.postJSON(t, "/api/v1/auth/verify", "", map[string]string{"username": username, "code": s.otp.code(username)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.postJSON(t, "/api/v1/auth/login", "", creds)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pair service.TokenPair
	decode(t, resp, &pair)
	return pair.AccessToken
}

func (s *testServer) upload(t *testing.T, token, filename string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("size", fmt.Sprint(len(content))))
	require.NoError(t, mw.WriteField("device", "desktop"))
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return s.do(t, http.MethodPost, "/api/v1/messages/file", token, &buf, mw.FormDataContentType())
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, 1000)
	resp := srv.do(t, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/metrics", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthFlow(t *testing.T) {
	srv := newTestServer(t, 1000)
	creds := map[string]string{"username": "alice", "password": "password123"}

	resp := srv.postJSON(t, "/api/v1/auth/register", "", creds)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = srv.postJSON(t, "/api/v1/auth/login", "", creds)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = srv.postJSON(t, "/api/v1/auth/verify", "", map[string]string{"username": "alice", "code": "000000x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = srv.postJSON(t, "/api/v1/auth/verify", "", map[string]string{"username": "alice", "code": srv.otp.code("alice")})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.postJSON(t, "/api/v1/auth/login", "", creds)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pair service.TokenPair
	decode(t, resp, &pair)

	resp = srv.postJSON(t, "/api/v1/auth/refresh", "", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.postJSON(t, "/api/v1/auth/refresh", "", map[string]string{"refresh_token": pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, "/api/v1/auth/logout", pair.AccessToken, nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAuthenticateRequired(t *testing.T) {
	srv := newTestServer(t, 1000)

	resp := srv.do(t, http.MethodGet, "/api/v1/messages", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/api/v1/messages", "garbage", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body ErrorResponse
	decode(t, resp, &body)
	assert.Equal(t, "Unauthorized", body.Error)
}

func TestMessageFlow(t *testing.T) {
	srv := newTestServer(t, 1000)
	token := srv.login(t, "alice")

	resp := srv.upload(t, token, "notes.txt", bytes.Repeat([]byte("a"), 400))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var msg domain.Message
	decode(t, resp, &msg)
	assert.Equal(t, domain.MessageTypeFile, msg.Type)
	assert.Equal(t, domain.DeviceDesktop, msg.Device)

	var usage service.QuotaUsage
	decode(t, srv.do(t, http.MethodGet, "/api/v1/me/quota", token, nil, ""), &usage)
	assert.EqualValues(t, 400, usage.Used)

	resp = srv.do(t, http.MethodGet, "/api/v1/messages/"+msg.ID+"/download", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename=notes.txt`)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Len(t, data, 400)

	resp = srv.do(t, http.MethodDelete, "/api/v1/messages/"+msg.ID, token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/api/v1/messages/"+msg.ID, token, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	decode(t, srv.do(t, http.MethodGet, "/api/v1/me/quota", token, nil, ""), &usage)
	assert.EqualValues(t, 400, usage.Used, "soft-deleted messages keep their charge")

	resp = srv.do(t, http.MethodDelete, "/api/v1/messages/"+msg.ID+"/purge", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var purged map[string]int64
	decode(t, resp, &purged)
	assert.EqualValues(t, 400, purged["released_bytes"])

	decode(t, srv.do(t, http.MethodGet, "/api/v1/me/quota", token, nil, ""), &usage)
	assert.Zero(t, usage.Used)
}

func TestUploadOverQuota(t *testing.T) {
	srv := newTestServer(t, 1000)
	token := srv.login(t, "alice")

	resp := srv.upload(t, token, "a.bin", bytes.Repeat([]byte("a"), 900))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = srv.upload(t, token, "b.bin", bytes.Repeat([]byte("b"), 150))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	var body ErrorResponse
	decode(t, resp, &body)
	assert.Equal(t, "CapacityExceeded", body.Error)
}

func TestUploadValidation(t *testing.T) {
	srv := newTestServer(t, 1000)
	token := srv.login(t, "alice")

	resp := srv.do(t, http.MethodPost, "/api/v1/messages/file", token, strings.NewReader("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("size", "12"))
	fw, err := mw.CreateFormFile("file", "short.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("abc"))
	require.NoError(t, mw.Close())
	resp = srv.do(t, http.MethodPost, "/api/v1/messages/file", token, &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadRejectsBadSizeAndTTL(t *testing.T) {
	srv := newTestServer(t, 1000)
	token := srv.login(t, "alice")

	form := func(ttl string) (*bytes.Buffer, string) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		if ttl != "" {
			require.NoError(t, mw.WriteField("ttl_seconds", ttl))
		}
		fw, err := mw.CreateFormFile("file", "a.txt")
		require.NoError(t, err)
		_, _ = fw.Write([]byte("abc"))
		require.NoError(t, mw.Close())
		return &buf, mw.FormDataContentType()
	}

	body, ct := form("")
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/messages/file", body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("X-File-Size", "three")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var errBody ErrorResponse
	decode(t, resp, &errBody)
	assert.Contains(t, errBody.Message, "X-File-Size")

	for _, ttl := range []string{"-1", "9223372036854775807", "31536001"} {
		body, ct := form(ttl)
		resp := srv.do(t, http.MethodPost, "/api/v1/messages/file", token, body, ct)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, ttl)
	}

	resp = srv.postJSON(t, "/api/v1/messages/text", token, map[string]any{"content": "hi", "ttl_seconds": int64(1) << 62})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = srv.postJSON(t, "/api/v1/messages/text", token, map[string]any{"content": "hi", "ttl_seconds": 3600})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var msg domain.Message
	decode(t, resp, &msg)
	require.NotNil(t, msg.ExpiresAt)
	assert.WithinDuration(t, msg.CreatedAt.Add(time.Hour), *msg.ExpiresAt, time.Second)
}

func TestEditTextMessage(t *testing.T) {
	srv := newTestServer(t, 1000)
	alice := srv.login(t, "alice")
	bob := srv.login(t, "bob")

	put := func(token, id string, v any) *http.Response {
		body, err := json.Marshal(v)
		require.NoError(t, err)
		return srv.do(t, http.MethodPut, "/api/v1/messages/"+id, token, bytes.NewReader(body), "application/json")
	}

	resp := srv.postJSON(t, "/api/v1/messages/text", alice, map[string]any{"content": "draft"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var msg domain.Message
	decode(t, resp, &msg)

	resp = put(alice, msg.ID, map[string]string{"content": "  final  "})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var edited domain.Message
	decode(t, resp, &edited)
	assert.Equal(t, "final", edited.Content)

	var got domain.Message
	decode(t, srv.do(t, http.MethodGet, "/api/v1/messages/"+msg.ID, alice, nil, ""), &got)
	assert.Equal(t, "final", got.Content)

	assert.Equal(t, http.StatusBadRequest, put(alice, msg.ID, map[string]string{"content": "   "}).StatusCode)
	assert.Equal(t, http.StatusForbidden, put(bob, msg.ID, map[string]string{"content": "mine"}).StatusCode)
	assert.Equal(t, http.StatusNotFound, put(alice, "missing", map[string]string{"content": "x"}).StatusCode)

	resp = srv.upload(t, alice, "a.bin", []byte("abc"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var file domain.Message
	decode(t, resp, &file)
	assert.Equal(t, http.StatusBadRequest, put(alice, file.ID, map[string]string{"content": "x"}).StatusCode)

	var usage service.QuotaUsage
	decode(t, srv.do(t, http.MethodGet, "/api/v1/me/quota", alice, nil, ""), &usage)
	assert.EqualValues(t, 3, usage.Used)
}

func TestTextMessagesAndOwnership(t *testing.T) {
	srv := newTestServer(t, 1000)
	alice := srv.login(t, "alice")
	bob := srv.login(t, "bob")

	resp := srv.postJSON(t, "/api/v1/messages/text", alice, map[string]any{"content": "hello"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var msg domain.Message
	decode(t, resp, &msg)

	resp = srv.do(t, http.MethodGet, "/api/v1/messages/"+msg.ID, bob, nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var list service.ListMessagesOutput
	decode(t, srv.do(t, http.MethodGet, "/api/v1/messages?type=text", alice, nil, ""), &list)
	assert.EqualValues(t, 1, list.TotalCount)

	decode(t, srv.do(t, http.MethodGet, "/api/v1/messages", bob, nil, ""), &list)
	assert.Zero(t, list.TotalCount)
}

func TestWebSocketEvents(t *testing.T) {
	srv := newTestServer(t, 1000)
	token := srv.login(t, "alice")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return srv.hub.Connections(1) == 1 }, time.Second, 10*time.Millisecond)

	created := srv.postJSON(t, "/api/v1/messages/text", token, map[string]any{"content": "ping"})
	require.Equal(t, http.StatusCreated, created.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event service.MessageEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, service.EventMessageCreated, event.Type)
	require.NotNil(t, event.Message)
	assert.Equal(t, "ping", event.Message.Content)
}
