package updater

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// newStaticServer serves body for every request, used to stand in for
// a GitHub asset download URL in tests.
func newStaticServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}))
}
