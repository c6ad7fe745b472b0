package rest_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/caseflow/pkg/batch/adapter/source/rest"
	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
)

func newClient(t *testing.T, h http.HandlerFunc) *rest.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := rest.NewClient(srv.URL+"/api/", "secret", "caseflow-test", time.Second, nil)
	require.NoError(t, err)
	return c
}

func TestFetchByID(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/clients/C-7", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get(rest.APIKeyHeader))
		assert.Equal(t, "caseflow-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"client_id": "C-7", "first_name": "Ada"}`))
	})

	item, err := c.FetchByID(context.Background(), model.ResourceClient, "C-7")
	require.NoError(t, err)
	assert.Equal(t, "C-7", item.ID)
	assert.Equal(t, "Ada", item.Fields.String("first_name"))
}

func TestFetchByIDNotFound(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := c.FetchByID(context.Background(), model.ResourceCase, "missing")
	assert.True(t, errors.Is(err, exception.ErrNotFound))
	assert.False(t, exception.IsBatchFatal(err))
}

func TestFetchByIDServerErrorIsItemLevel(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"kaput"}`))
	})
	_, err := c.FetchByID(context.Background(), model.ResourceCase, "1")
	require.Error(t, err)
	assert.False(t, exception.IsBatchFatal(err))
	assert.Contains(t, err.Error(), "kaput")
}

func TestUnavailableStatusIsBatchFatal(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := c.FetchByID(context.Background(), model.ResourceCase, "1")
	assert.True(t, exception.IsBatchFatal(err))
}

func TestTransportFailureIsSourceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := rest.NewClient(url, "", "", 200*time.Millisecond, nil)
	require.NoError(t, err)
	_, err = c.Search(context.Background(), model.ResourceClient, nil, 1, 10)

	var unavailable *exception.SourceUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, "Search", unavailable.Op)
}

func TestSearch(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sessions", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("page_size"))
		assert.Equal(t, "open", r.URL.Query().Get("status"))
		_, _ = w.Write([]byte(`{
			"meta": {"total": 120},
			"data": [{"session_id": "S-1"}, {"session_id": "S-2"}, {"note": "no id"}]
		}`))
	})

	res, err := c.Search(context.Background(), model.ResourceSession, model.Filters{"status": "open"}, 2, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(120), res.TotalCount)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "S-2", res.Items[1].ID)
	require.Len(t, res.Invalid, 1, "the entry without an id is reported, not dropped")
	assert.Equal(t, 2, res.Invalid[0].Position)
	assert.Error(t, res.Invalid[0].Err)
}

func TestSearchWithoutTotalFallsBackToZero(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items": []}`))
	})
	res, err := c.Search(context.Background(), model.ResourceCase, nil, 1, 1)
	require.NoError(t, err)
	assert.Zero(t, res.TotalCount)
	assert.Empty(t, res.Items)
}

func TestMalformedSearchResponse(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})
	_, err := c.Search(context.Background(), model.ResourceCase, nil, 1, 1)
	assert.Error(t, err)
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := rest.NewClient(" ", "", "", time.Second, nil)
	assert.Error(t, err)
}
