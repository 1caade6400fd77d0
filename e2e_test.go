package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ruleengine/bootstrap"
	"ruleengine/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeTestPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func call(t *testing.T, method, url string, body interface{}, out interface{}) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf(`
log:
  level: error
data_paths:
  data_dir: %q
api:
  port: %d
  rate_limit:
    requests_per_second: 1000
    burst: 1000
`, filepath.Join(dir, "data"), freeTestPort(t))), 0644))

	cfg, err := config.LoadConfig(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	app, err := bootstrap.NewAppWithConfig(ctx, cfg)
	require.NoError(t, err)
	defer app.Shutdown()
	require.NoError(t, app.Start(ctx))

	base := "http://" + app.Addr()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	api := base + "/api/v1"

	var created struct {
		ID   string `json:"id"`
		Rule string `json:"rule"`
	}
	status := call(t, http.MethodPost, api+"/rules", map[string]string{
		"name": "senior-sales",
		"rule": "age > 30 AND department = 'Sales'",
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, created.ID)

	var result struct {
		Result bool `json:"result"`
	}
	employee := map[string]interface{}{
		"attributes": map[string]interface{}{"age": 35, "department": "Sales", "salary": 40000},
	}
	status = call(t, http.MethodPost, api+"/rules/"+created.ID+"/evaluate", employee, &result)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, result.Result)

	status = call(t, http.MethodPost, api+"/rules/"+created.ID+"/conditions", map[string]string{
		"rule":     "salary > 50000",
		"operator": "AND",
	}, &created)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "((age > 30 AND department = 'Sales') AND salary > 50000)", created.Rule)

	status = call(t, http.MethodPost, api+"/rules/"+created.ID+"/evaluate", employee, &result)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, result.Result)

	status = call(t, http.MethodPatch, api+"/rules/"+created.ID+"/nodes", map[string]string{
		"path":  "",
		"value": "OR",
	}, &created)
	require.Equal(t, http.StatusOK, status)

	status = call(t, http.MethodPost, api+"/rules/"+created.ID+"/evaluate", employee, &result)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, result.Result)

	status = call(t, http.MethodGet, api+"/rules/"+created.ID, nil, &created)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "((age > 30 AND department = 'Sales') OR salary > 50000)", created.Rule)

	require.Equal(t, http.StatusNoContent, call(t, http.MethodDelete, api+"/rules/"+created.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, call(t, http.MethodGet, api+"/rules/"+created.ID, nil, nil))
}
