package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/pawchat/internal/auth"
	"github.com/npezzotti/pawchat/internal/chat"
	"github.com/npezzotti/pawchat/internal/config"
	"github.com/npezzotti/pawchat/internal/database"
	"github.com/npezzotti/pawchat/internal/server"
	"github.com/npezzotti/pawchat/internal/stats"
	"github.com/npezzotti/pawchat/internal/testutil"
	"github.com/npezzotti/pawchat/internal/types"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key")

type testApp struct {
	app   *GoChatApp
	svc   *chat.Service
	store *database.MemoryStore
	stats *stats.MockStatsUpdater
}

func newTestApp(t *testing.T) *testApp {
	su := stats.NewIgnoringMock()

	logger := testutil.TestLogger(t)
	store := database.NewMemoryStore()
	store.PutUser(database.User{Id: 11, Name: "Ari"})
	store.PutUser(database.User{Id: 8, Name: "Bo"})

	svc := chat.NewService(logger, store, store, staticLookup{store})
	cs := server.NewChatServer(logger, svc, nil, su)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	app := NewGoChatApp(http.NewServeMux(), logger, cs, svc, store, auth.NewJWTVerifier(testSigningKey), su, &config.Config{
		ServerAddr:     "localhost:0",
		AllowedOrigins: []string{"http://localhost:3000"},
	})

	return &testApp{app: app, svc: svc, store: store, stats: su}
}

// staticLookup adapts the memory store's user table for display lookups.
type staticLookup struct {
	store *database.MemoryStore
}

func (l staticLookup) DisplayUsers(ctx context.Context, ids []int64) (map[int64]types.User, error) {
	found, err := l.store.GetUsersByIds(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]types.User, len(found))
	for _, u := range found {
		out[u.Id] = types.User{Id: u.Id, Name: u.Name}
	}
	return out, nil
}

func tokenFor(t *testing.T, userId int64) string {
	token, err := auth.IssueToken(testSigningKey, userId, time.Hour)
	require.NoError(t, err)
	return token
}

// do sends a request through the full handler chain as userId. A zero
// userId sends no credentials.
func (ta *testApp) do(t *testing.T, method, target string, userId int64, body any) *httptest.ResponseRecorder {
	buf := &bytes.Buffer{}
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(buf).Encode(b))
		}
	}

	req := httptest.NewRequest(method, target, buf)
	if userId != 0 {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, userId))
	}

	rr := httptest.NewRecorder()
	ta.app.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeApiError(t *testing.T, rr *httptest.ResponseRecorder) ApiError {
	var apiErr ApiError
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &apiErr))
	return apiErr
}

func roomPath(id int64, suffix string) string {
	return fmt.Sprintf("/api/v1/chat/room/%d/%s", id, suffix)
}

var errBoom = errors.New("boom")
