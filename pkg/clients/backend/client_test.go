package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mytonstorage-dashboard/pkg/models"
	v1 "mytonstorage-dashboard/pkg/models/api/v1"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL, time.Second)
	require.NoError(t, err)

	return c
}

func TestLoginStoresSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/ton-proof":
			_, _ = w.Write([]byte(`{"data":"auth:mytonstorage:example.com"}`))
		case "/api/v1/login":
			var info v1.LoginInfo
			require.NoError(t, json.NewDecoder(r.Body).Decode(&info))
			assert.Equal(t, "0:abc", info.Address)
			http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "sig:1:addr", Path: "/"})
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case "/api/v1/files/unpaid":
			ck, err := r.Cookie(sessionCookie)
			if err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			assert.Equal(t, "sig:1:addr", ck.Value)
			_, _ = w.Write([]byte(`[{"bag_id":"aa","user_address":"0:abc","created_at":1,"updated_at":2}]`))
		}
	})

	payload, err := c.ProofPayload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "auth:mytonstorage:example.com", payload)

	require.NoError(t, c.Login(context.Background(), v1.LoginInfo{Address: "0:abc"}))
	assert.True(t, c.HasSession())

	bags, err := c.UnpaidBags(context.Background())
	require.NoError(t, err)
	require.Len(t, bags, 1)
	assert.Equal(t, "aa", bags[0].BagID)

	c.Logout()
	assert.False(t, c.HasSession())

	_, err = c.UnpaidBags(context.Background())
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
		code   int
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, want: models.ErrUnauthorized},
		{name: "gone", status: http.StatusGone, want: models.ErrOfferWindowExpired},
		{name: "not found", status: http.StatusNotFound, want: models.ErrNotFound},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"too many providers requested"}`, code: 400},
		{name: "unavailable", status: http.StatusServiceUnavailable, code: 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Offers(context.Background(), v1.OffersRequest{BagID: "aa", Providers: []string{"p"}})
			require.Error(t, err)

			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				return
			}

			var appErr *models.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestUploadReportsProgress(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.txt")
	second := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(first, []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("world!"), 0o644))

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/files/", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "my files", r.FormValue("description"))

		files := r.MultipartForm.File["file"]
		require.Len(t, files, 2)
		assert.Equal(t, "a.txt", files[0].Filename)
		assert.Contains(t, files[0].Header.Get("Content-Disposition"), `filename="folder/a.txt"`)

		f, err := files[1].Open()
		require.NoError(t, err)
		body, _ := io.ReadAll(f)
		assert.Equal(t, "world!", string(body))

		_, _ = w.Write([]byte(`{"bag_id":"ABCDEF"}`))
	})

	var last, total uint64
	bagID, err := c.Upload(context.Background(), "my files", []models.FileInfo{
		{Name: "folder/a.txt", Path: first, Size: 5},
		{Name: "folder/b.txt", Path: second, Size: 6},
	}, func(sent, all uint64) {
		last, total = sent, all
	})
	require.NoError(t, err)
	assert.Equal(t, "abcdef", bagID)
	assert.Equal(t, uint64(11), last)
	assert.Equal(t, uint64(11), total)
}

func TestUploadWithoutFiles(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := c.Upload(context.Background(), "", nil, nil)
	assert.ErrorIs(t, err, models.ErrNoFiles)
}

func TestNewClientValidatesURL(t *testing.T) {
	_, err := NewClient("localhost", time.Second)
	assert.Error(t, err)

	_, err = NewClient("https://mytonstorage.org", 0)
	assert.NoError(t, err)
}
