// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morganforge/finchat/internal/localstore"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *TokenManager) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tokens := NewTokenManager(localstore.NewMemoryStore(), zerolog.Nop())
	client := NewClient(Options{BaseURL: server.URL, Logger: zerolog.Nop()}, tokens)
	return client, tokens
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLogin_StoresTokensAndUser(t *testing.T) {
	var got Credentials
	client, tokens := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/login", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{
			"user": map[string]any{
				"id":         "u1",
				"email":      "ann@example.com",
				"name":       "Ann",
				"created_at": "2025-03-01T10:00:00.123456",
				"is_active":  true,
			},
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "bearer",
		})
	}))

	ctx := context.Background()
	res, err := client.Login(ctx, Credentials{Email: "ann@example.com", Password: "secret", RememberMe: true})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "Ann", res.Data.User.Name)
	assert.Equal(t, 2025, res.Data.User.CreatedAt.Year())
	assert.True(t, got.RememberMe)

	assert.Equal(t, "access-1", tokens.AccessToken(ctx))
	assert.Equal(t, "refresh-1", tokens.RefreshToken(ctx))
	user := tokens.User(ctx)
	require.NotNil(t, user)
	assert.Equal(t, "u1", user.ID)
}

func TestLogin_FailureIsResultNotError(t *testing.T) {
	client, tokens := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect email or password"})
	}))

	res, err := client.Login(context.Background(), Credentials{Email: "a@b.c", Password: "x"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Incorrect email or password", res.Error)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.False(t, tokens.IsAuthenticated(context.Background()))
}

func TestErrorDetail_ValidationList(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{
				{"loc": []string{"body", "email"}, "msg": "value is not a valid email address"},
				{"loc": []string{"body", "password"}, "msg": "field required"},
			},
		})
	}))

	res, err := client.Register(context.Background(), Registration{Email: "bad"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "value is not a valid email address; field required", res.Error)
}

func TestTransportFailureIsError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	tokens := NewTokenManager(localstore.NewMemoryStore(), zerolog.Nop())
	client := NewClient(Options{BaseURL: url, Timeout: time.Second}, tokens)

	_, err := client.ForgotPassword(context.Background(), "a@b.c")
	assert.Error(t, err)
}

func TestRefresh_ConcurrentUnauthorizedSharesOneRefresh(t *testing.T) {
	var refreshes atomic.Int32
	client, tokens := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/refresh":
			refreshes.Add(1)
			// Hold the refresh open so the other callers pile up behind it.
			time.Sleep(50 * time.Millisecond)
			writeJSON(w, http.StatusOK, TokenPair{AccessToken: "fresh", RefreshToken: "refresh-2"})
		case "/api/auth/me":
			if r.Header.Get("Authorization") != "Bearer fresh" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
				return
			}
			writeJSON(w, http.StatusOK, User{ID: "u1", Email: "ann@example.com"})
		}
	}))

	ctx := context.Background()
	require.NoError(t, tokens.SetPair(ctx, TokenPair{AccessToken: "stale", RefreshToken: "refresh-1"}))

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Result[User], callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = client.Me(ctx)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.True(t, results[i].Success, "caller %d", i)
	}
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, "fresh", tokens.AccessToken(ctx))
	assert.Equal(t, "refresh-2", tokens.RefreshToken(ctx))
}

func TestRefresh_FailureClearsSessionAndNotifies(t *testing.T) {
	client, tokens := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid token"})
	}))

	var expired atomic.Int32
	client.SetAuthExpiredHandler(func() { expired.Add(1) })

	ctx := context.Background()
	require.NoError(t, tokens.SetPair(ctx, TokenPair{AccessToken: "stale", RefreshToken: "revoked"}))
	require.NoError(t, tokens.SetUser(ctx, User{ID: "u1"}))

	res, err := client.ChangePassword(ctx, "old", "new-password", "new-password")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.Equal(t, ErrAuthExpired.Error(), res.Error)

	assert.Equal(t, int32(1), expired.Load())
	assert.False(t, tokens.IsAuthenticated(ctx))
	assert.Nil(t, tokens.User(ctx))
}

func TestRefresh_SurvivesCancelledLeader(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var enterOnce sync.Once
	var refreshes atomic.Int32

	client, tokens := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/refresh":
			refreshes.Add(1)
			enterOnce.Do(func() { close(entered) })
			<-release
			writeJSON(w, http.StatusOK, TokenPair{AccessToken: "fresh", RefreshToken: "refresh-2"})
		case "/api/files":
			if r.Header.Get("Authorization") != "Bearer fresh" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
				return
			}
			writeJSON(w, http.StatusOK, []Document{})
		}
	}))
	var releaseOnce sync.Once
	t.Cleanup(func() { releaseOnce.Do(func() { close(release) }) })

	var expired atomic.Int32
	client.SetAuthExpiredHandler(func() { expired.Add(1) })

	ctx := context.Background()
	require.NoError(t, tokens.SetPair(ctx, TokenPair{AccessToken: "stale", RefreshToken: "refresh-1"}))

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		_, _ = client.ListFiles(leaderCtx)
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh never started")
	}

	type outcome struct {
		res Result[[]Document]
		err error
	}
	followerDone := make(chan outcome, 1)
	go func() {
		res, err := client.ListFiles(ctx)
		followerDone <- outcome{res, err}
	}()

	time.Sleep(50 * time.Millisecond)
	cancelLeader()
	time.Sleep(20 * time.Millisecond)
	releaseOnce.Do(func() { close(release) })

	var got outcome
	select {
	case got = <-followerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("follower never returned")
	}
	<-leaderDone

	require.NoError(t, got.err)
	assert.True(t, got.res.Success)
	assert.Equal(t, int32(0), expired.Load())
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, "fresh", tokens.AccessToken(ctx))
}

func TestLogout_ClearsTokensWhenBackendFails(t *testing.T) {
	client, tokens := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "boom"})
	}))

	ctx := context.Background()
	require.NoError(t, tokens.SetPair(ctx, TokenPair{AccessToken: "a", RefreshToken: "r"}))

	require.NoError(t, client.Logout(ctx))
	assert.False(t, tokens.IsAuthenticated(ctx))
	assert.Empty(t, tokens.RefreshToken(ctx))
}

func TestResponseTooLarge(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, io.LimitReader(zeroReader{}, MaxResponseSize+10))
	}))

	_, err := client.ListFiles(context.Background())
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = ' '
	}
	return len(p), nil
}

func TestTimestamp_Layouts(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		zero  bool
	}{
		{"rfc3339", `"2025-03-01T10:00:00Z"`, false},
		{"naive micro", `"2025-03-01T10:00:00.123456"`, false},
		{"naive", `"2025-03-01T10:00:00"`, false},
		{"null", `null`, true},
		{"empty", `""`, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var ts Timestamp
			require.NoError(t, json.Unmarshal([]byte(tc.input), &ts))
			assert.Equal(t, tc.zero, ts.IsZero())
		})
	}

	var ts Timestamp
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(Options{BaseURL: " http://example.test/ "}, nil)
	assert.Equal(t, "http://example.test", client.BaseURL())

	client = NewClient(Options{}, nil)
	assert.True(t, strings.HasPrefix(client.BaseURL(), "http://localhost"))
}
