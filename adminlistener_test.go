package ruleimport

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdminListener(t *testing.T) {
	// Make sure there's at least one import metric
	NewImportMetrics("test-admin").committed.Add(1)
	runsTotal.WithLabelValues("committed").Add(0)

	l := NewAdminListener("test-admin", "127.0.0.1:0", AdminListenerOptions{})
	ts := httptest.NewServer(l.Handler())
	defer ts.Close()

	get := func(path string) string {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(b)
	}
	require.Contains(t, get("/ruleimport/vars"), "ruleimport.importer.test-admin.committed")
	require.Contains(t, get("/metrics"), "ruleimport_runs_total")
}
