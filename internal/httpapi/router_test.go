package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/couples-chat/internal/ai"
	"github.com/suPer8Hu/couples-chat/internal/auth"
	"github.com/suPer8Hu/couples-chat/internal/chat"
	"github.com/suPer8Hu/couples-chat/internal/couples"
	"github.com/suPer8Hu/couples-chat/internal/db"
	"github.com/suPer8Hu/couples-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/couples-chat/internal/memory"
	"github.com/suPer8Hu/couples-chat/internal/sessions"
	"github.com/suPer8Hu/couples-chat/internal/users"
	gormlogger "gorm.io/gorm/logger"
)

type memRevoker struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func (r *memRevoker) Revoke(_ context.Context, jti string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[jti] = until
	return nil
}

func (r *memRevoker) IsRevoked(_ context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.m[jti]
	return ok && time.Now().Before(until), nil
}

type cannedProvider struct{}

func (cannedProvider) Chat(context.Context, []ai.Message) (string, error) {
	return "Thanks for sharing that.", nil
}

type dropWrites struct{}

func (dropWrites) Dispatch(context.Context, memory.WriteJob) error { return nil }

type noMemories struct{}

func (noMemories) Search(context.Context, string, string, int) ([]memory.Item, error) {
	return nil, nil
}

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.Open(db.Options{
		Driver:       "sqlite",
		DSN:          "file:" + name + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
		LogLevel:     gormlogger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	tokenCfg := auth.TokenConfig{Secret: "test-secret", Audience: "authenticated", TTL: time.Hour}
	revoker := &memRevoker{m: map[string]time.Time{}}
	coupleSvc := couples.NewService(gdb)
	sessionSvc := sessions.NewService(gdb, coupleSvc)

	h := &handlers.Handler{
		Auth:     auth.NewService(gdb, auth.NewSigner(tokenCfg)),
		Users:    users.NewService(gdb),
		Couples:  coupleSvc,
		Sessions: sessionSvc,
		Chat: chat.NewService(chat.Deps{
			Repo:         chat.NewRepo(gdb),
			Provider:     cannedProvider{},
			Memories:     noMemories{},
			Writer:       dropWrites{},
			Couples:      coupleSvc,
			Participants: sessionSvc,
		}),
		Revoker: revoker,
	}
	return NewRouter(h, AuthDeps{
		Verifier: auth.NewVerifier(tokenCfg),
		Resolver: auth.NewResolver(gdb, false),
		Revoked:  revoker,
	})
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func call(t *testing.T, r http.Handler, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var b []byte
	if body != nil {
		var err error
		b, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

type tokenData struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        struct {
		ID    uint64 `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

type sessionData struct {
	ID                  uint64 `json:"id"`
	SessionCode         string `json:"session_code"`
	CurrentParticipants int    `json:"current_participants"`
	Participants        []struct {
		UserID uint64 `json:"user_id"`
		Role   string `json:"role"`
	} `json:"participants"`
}

func register(t *testing.T, r http.Handler, name string) tokenData {
	t.Helper()
	status, env := call(t, r, http.MethodPost, "/auth/register", "", map[string]any{
		"email":      name + "@example.com",
		"username":   name,
		"first_name": strings.ToUpper(name[:1]) + name[1:],
		"last_name":  "Test",
		"password":   "password-" + name,
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	return decode[tokenData](t, env.Data)
}

func TestPingAndUnknownRoute(t *testing.T) {
	r := newTestServer(t)

	status, env := call(t, r, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, env.Code)

	status, env = call(t, r, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, 40400, env.Code)
}

func TestAuthFlow(t *testing.T) {
	r := newTestServer(t)
	reg := register(t, r, "alice")
	assert.NotEmpty(t, reg.AccessToken)

	status, _ := call(t, r, http.MethodPost, "/auth/register", "", map[string]any{
		"email": "alice@example.com", "username": "alice2", "first_name": "A", "last_name": "B", "password": "password-x",
	})
	assert.Equal(t, http.StatusConflict, status)

	status, env := call(t, r, http.MethodPost, "/auth/register", "", map[string]any{
		"email": "short@example.com", "username": "short", "first_name": "S", "last_name": "P", "password": "1234567",
	})
	assert.Equal(t, http.StatusBadRequest, status, env.Message)

	status, env = call(t, r, http.MethodPost, "/auth/login", "", map[string]any{
		"email": "alice@example.com", "password": "password-alice",
	})
	require.Equal(t, http.StatusOK, status)
	login := decode[tokenData](t, env.Data)
	assert.Equal(t, "bearer", login.TokenType)

	status, _ = call(t, r, http.MethodPost, "/auth/login", "", map[string]any{
		"email": "alice@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env = call(t, r, http.MethodGet, "/auth/me", login.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	me := decode[struct {
		Email string `json:"email"`
	}](t, env.Data)
	assert.Equal(t, "alice@example.com", me.Email)

	status, _ = call(t, r, http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = call(t, r, http.MethodPost, "/auth/logout", login.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	status, env = call(t, r, http.MethodGet, "/auth/me", login.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "token has been revoked", env.Message)

	// the registration token is a different jti and still works
	status, _ = call(t, r, http.MethodGet, "/auth/me", reg.AccessToken, nil)
	assert.Equal(t, http.StatusOK, status)

	status, env = call(t, r, http.MethodGet, "/users/check-email?email=alice@example.com", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, decode[struct {
		Exists bool `json:"exists"`
	}](t, env.Data).Exists)
}

func TestSoloSessionFlow(t *testing.T) {
	r := newTestServer(t)
	alice := register(t, r, "alice")

	status, env := call(t, r, http.MethodPost, "/sessions/create-session", alice.AccessToken, map[string]any{"session_mode": "solo"})
	require.Equal(t, http.StatusCreated, status, env.Message)
	created := decode[sessionData](t, env.Data)

	status, env = call(t, r, http.MethodGet, "/sessions/get-session", alice.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	got := decode[sessionData](t, env.Data)
	assert.Equal(t, created.ID, got.ID)
	require.Len(t, got.Participants, 1)
	assert.Equal(t, "creator", got.Participants[0].Role)
	assert.Equal(t, alice.User.ID, got.Participants[0].UserID)

	status, _ = call(t, r, http.MethodPost, "/sessions/create-session", alice.AccessToken, map[string]any{"session_mode": "solo"})
	assert.Equal(t, http.StatusConflict, status)
}

func TestCoupleSessionFlow(t *testing.T) {
	r := newTestServer(t)
	alice := register(t, r, "alice")
	bob := register(t, r, "bob")
	carol := register(t, r, "carol")

	status, env := call(t, r, http.MethodPost, "/couples", alice.AccessToken, map[string]any{
		"partner_email":           "bob@example.com",
		"relationship_start_date": "2019-06-01",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	couple := decode[struct {
		ID    uint64 `json:"id"`
		User2 struct {
			Username string `json:"username"`
		} `json:"user2"`
	}](t, env.Data)
	assert.Equal(t, "bob", couple.User2.Username)

	_, envA := call(t, r, http.MethodGet, "/couples/my-couple", alice.AccessToken, nil)
	_, envB := call(t, r, http.MethodGet, "/couples/my-couple", bob.AccessToken, nil)
	type idOnly struct {
		ID uint64 `json:"id"`
	}
	assert.Equal(t, decode[idOnly](t, envA.Data).ID, decode[idOnly](t, envB.Data).ID)

	status, _ = call(t, r, http.MethodGet, "/couples/"+jsonNum(couple.ID), carol.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, env = call(t, r, http.MethodPost, "/sessions/create-session", alice.AccessToken, map[string]any{})
	require.Equal(t, http.StatusCreated, status, env.Message)
	sess := decode[sessionData](t, env.Data)

	status, env = call(t, r, http.MethodPost, "/sessions/join-session", bob.AccessToken, map[string]any{"session_code": sess.SessionCode})
	require.Equal(t, http.StatusOK, status, env.Message)

	_, envA = call(t, r, http.MethodGet, "/sessions/get-session", alice.AccessToken, nil)
	_, envB = call(t, r, http.MethodGet, "/sessions/get-session", bob.AccessToken, nil)
	a, b := decode[sessionData](t, envA.Data), decode[sessionData](t, envB.Data)
	assert.Equal(t, a.ID, b.ID)
	assert.Len(t, a.Participants, 2)
	assert.Len(t, b.Participants, 2)

	status, env = call(t, r, http.MethodPost, "/sessions/join-session", carol.AccessToken, map[string]any{"session_code": sess.SessionCode})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "session is full", env.Message)

	status, env = call(t, r, http.MethodPost, "/messages", bob.AccessToken, map[string]any{
		"message":      "We had a good week",
		"partner":      "bob",
		"couple_names": map[string]string{"bob": "Bob", "alice": "Alice"},
		"couple_id":    couple.ID,
		"session_id":   sess.ID,
	})
	require.Equal(t, http.StatusOK, status, env.Message)
	reply := decode[map[string]any](t, env.Data)
	assert.Equal(t, "Thanks for sharing that.", reply["ai_response"])
	assert.Equal(t, "couple", reply["therapy_mode"])
	assert.Equal(t, "couple_"+jsonNum(couple.ID), reply["couple_agent_id"])

	status, env = call(t, r, http.MethodGet, "/messages?session_id="+jsonNum(sess.ID), alice.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	page := decode[struct {
		Messages []struct {
			SenderType string `json:"sender_type"`
		} `json:"messages"`
	}](t, env.Data)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "ai", page.Messages[0].SenderType)

	status, _ = call(t, r, http.MethodGet, "/messages?session_id="+jsonNum(sess.ID), carol.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = call(t, r, http.MethodPost, "/messages", carol.AccessToken, map[string]any{"message": "hi"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func jsonNum(n uint64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
