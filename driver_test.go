package httprun

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHTTPFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "requests.http")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDriver_EndToEndSequentialRunWithGlobalsPropagation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"token": "s3cr3t"}`))
		case "/me":
			assert.Equal(t, "Bearer s3cr3t", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id": 1}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	file := writeHTTPFile(t, `### login
POST `+srv.URL+`/login

> {%
client.test("logged in", function() {
  client.assert(response.status === 200, "expected 200");
});
client.global.set("token", response.body.token);
%}

### me
GET `+srv.URL+`/me
Authorization: Bearer {{token}}

> {%
client.test("fetched self", function() {
  client.assert(response.status === 200, "expected 200");
});
%}
`)

	results, warnings, err := NewDriver().Run(context.Background(), RunOptions{FilePath: file})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, results, 2)
	assert.Equal(t, 0, ExitCode(results))
	for _, r := range results {
		assert.True(t, r.Succeeded())
	}
}

func TestDriver_FilterByIndexTakesPrecedenceOverName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	file := writeHTTPFile(t, `### first
GET `+srv.URL+`/a

### second
GET `+srv.URL+`/b
`)
	results, _, err := NewDriver().Run(context.Background(), RunOptions{FilePath: file, Name: "first", Index: 2})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Request.Index)
}

func TestDriver_TransportErrorDoesNotAbortRemainingRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	file := writeHTTPFile(t, `### broken
GET http://127.0.0.1:1

### healthy
GET `+srv.URL+`/ok
`)
	results, _, err := NewDriver().Run(context.Background(), RunOptions{FilePath: file})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Error(t, results[0].TransportErr)
	assert.NoError(t, results[1].TransportErr)
	assert.Equal(t, 1, ExitCode(results))
}

func TestDriver_FailingTestFlipsExitCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	file := writeHTTPFile(t, `### bad-status
GET `+srv.URL+`/

> {%
client.test("expects 200", function() {
  client.assert(response.status === 200, "not 200");
});
%}
`)
	results, _, err := NewDriver().Run(context.Background(), RunOptions{FilePath: file})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Succeeded())
	assert.Equal(t, 1, ExitCode(results))
}

func TestDriver_DryRunSkipsExecutionAndHandler(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	file := writeHTTPFile(t, `### would run
GET `+srv.URL+`/

> {%
client.test("never runs", function() {
  client.assert(false, "should not execute");
});
%}
`)
	results, _, err := NewDriver().Run(context.Background(), RunOptions{FilePath: file, DryRun: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, called)
	assert.True(t, results[0].Response.NotExecuted)
	assert.Empty(t, results[0].Tests)
	assert.Equal(t, 0, ExitCode(results))
}

func TestDriver_UnknownNameIsUsageError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	file := writeHTTPFile(t, `### only
GET `+srv.URL+`/
`)
	_, _, err := NewDriver().Run(context.Background(), RunOptions{FilePath: file, Name: "missing"})
	require.Error(t, err)
	var usageErr *UsageError
	require.ErrorAs(t, err, &usageErr)
}
