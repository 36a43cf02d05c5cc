package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoLineProfiler/internal/archive"
	"GoLineProfiler/internal/report"
)

// seedRecord 写入一条样例记录
func seedRecord(t *testing.T, store archive.Store, id string, startedAt time.Time) *archive.Record {
	t.Helper()

	rec := archive.NewRecord(&report.Report{
		SessionID:  id,
		StartedAt:  startedAt,
		DurationNs: int64(time.Second),
		Unit:       "µs",
		Functions: []report.FunctionReport{{
			Name:        "pkg.Target",
			ShortName:   "Target",
			File:        "target.go",
			EntryLine:   1,
			Calls:       1,
			TotalTimeNs: int64(time.Second),
			Rows: []report.Row{
				{Line: 2, Hits: 150, TotalTimeNs: int64(time.Second), PerHitNs: int64(time.Second) / 150, PercentTime: 100},
			},
		}},
	})
	require.NoError(t, store.Put(context.Background(), rec))
	return rec
}

// newTestDashboard 构造内存后端的仪表板
func newTestDashboard(t *testing.T) (*Dashboard, archive.Store) {
	t.Helper()
	store := archive.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	return New(store, DefaultOptions(":0")), store
}

// TestListSessionsAPI 测试会话列表接口
func TestListSessionsAPI(t *testing.T) {
	d, store := newTestDashboard(t)
	base := time.Unix(1700000000, 0).UTC()
	seedRecord(t, store, "session_a", base)
	seedRecord(t, store, "session_b", base.Add(time.Minute))

	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var apiResp struct {
		Success bool             `json:"success"`
		Data    []SessionSummary `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiResp))
	assert.True(t, apiResp.Success)
	require.Len(t, apiResp.Data, 2)
	assert.Equal(t, "session_b", apiResp.Data[0].ID, "newest first")
	assert.Equal(t, 1, apiResp.Data[0].Functions)
}

// TestGetSessionAPI 测试单会话接口与404
func TestGetSessionAPI(t *testing.T) {
	d, store := newTestDashboard(t)
	seedRecord(t, store, "session_a", time.Now().UTC())

	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/sessions/session_a")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	missing, err := http.Get(srv.URL + "/api/sessions/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

// TestReportTextEndpoint 测试文本报告端点
func TestReportTextEndpoint(t *testing.T) {
	d, store := newTestDashboard(t)
	seedRecord(t, store, "session_a", time.Now().UTC())

	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/sessions/session_a/report")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(body)
	assert.Contains(t, out, "Timer unit")
	assert.Contains(t, out, "Function: Target")
	assert.Contains(t, out, "% Time")
}

// TestIndexPage 测试索引页渲染
func TestIndexPage(t *testing.T) {
	d, store := newTestDashboard(t)
	seedRecord(t, store, "session_a", time.Now().UTC())

	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "session_a")
	assert.Contains(t, string(body), "Profiling Sessions")
}

// TestWebSocketPublish 测试新会话通过WebSocket推送给订阅者
func TestWebSocketPublish(t *testing.T) {
	d, _ := newTestDashboard(t)

	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// 给服务端一点时间登记客户端
	time.Sleep(100 * time.Millisecond)

	rec := archive.NewRecord(&report.Report{
		SessionID:  "live_session",
		StartedAt:  time.Now().UTC(),
		DurationNs: int64(time.Second),
		Unit:       "µs",
	})
	require.NoError(t, d.Publish(context.Background(), rec))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var summary SessionSummary
	require.NoError(t, conn.ReadJSON(&summary))
	assert.Equal(t, "live_session", summary.ID)

	require.NoError(t, d.Shutdown(context.Background()))
}
