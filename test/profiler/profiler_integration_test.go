package profiler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoLineProfiler/internal/analyzer"
	"GoLineProfiler/internal/archive"
	"GoLineProfiler/internal/config"
	"GoLineProfiler/internal/lineprof"
	"GoLineProfiler/internal/report"
	"GoLineProfiler/internal/testutil"
	"GoLineProfiler/pkg/dashboard"
)

// TestEndToEndProfileAndArchive 端到端：观测→报告→分析→归档→仪表板
func TestEndToEndProfileAndArchive(t *testing.T) {
	t.Log("🎬 端到端剖析流程测试...")

	// 1. 加载默认配置
	cfg, _, err := config.LoadProfilerConfig("")
	require.NoError(t, err)

	// 2. 在观测下运行示例工作负载（缩短延迟）
	timer := lineprof.NewLineTimer()
	workloads := testutil.NewWorkloads(timer,
		testutil.WithDelays(40*time.Millisecond, 80*time.Millisecond))
	require.NoError(t, workloads.RegisterAll())

	session, err := timer.RunSession(func() error {
		workloads.Sumulate(150)
		return nil
	})
	require.NoError(t, err)

	sa := testutil.NewSessionAssertions(t)
	sa.AssertFinalized(session)

	sumulate := sa.AssertFunctionHit(session, "(*Workloads).Sumulate", 1)
	badCall := sa.AssertFunctionHit(session, "(*Workloads).BadCall", 1)
	worseCall := sa.AssertFunctionHit(session, "(*Workloads).WorseCall", 1)

	// 循环行命中150次，BadCall/WorseCall各一次且耗时成比例
	sa.AssertLineHits(sumulate, 150)
	sa.AssertTotalWithin(badCall, 40*time.Millisecond, 600*time.Millisecond)
	sa.AssertTotalWithin(worseCall, 80*time.Millisecond, 1200*time.Millisecond)
	assert.Greater(t, worseCall.TotalTime(), badCall.TotalTime())

	// 3. 报告构建与不变量
	rep := report.Build(session, report.ParseUnit(cfg.Report.Unit))
	sa.AssertPercentagesSum(rep)
	require.Len(t, rep.Functions, 3)
	assert.Equal(t, "(*Workloads).Sumulate", rep.Functions[0].ShortName, "按首次调用顺序")

	// 4. 分析器在真实睡眠上应识别出支配调用
	findings := analyzer.New(analyzer.DefaultThresholds()).Analyze(rep)
	var kinds []analyzer.FindingKind
	for _, f := range findings {
		kinds = append(kinds, f.Kind)
	}
	assert.Contains(t, kinds, analyzer.FindingDominantCall)
	t.Logf("   🔍 %d 条分析发现", len(findings))

	// 5. 归档到Badger并从仪表板读回
	store, err := archive.NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	d := dashboard.New(store, dashboard.DefaultOptions(":0"))
	require.NoError(t, d.Publish(context.Background(), archive.NewRecord(rep)))

	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/sessions/" + rep.SessionID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var apiResp struct {
		Success bool           `json:"success"`
		Data    archive.Record `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiResp))
	assert.True(t, apiResp.Success)
	assert.Equal(t, rep.SessionID, apiResp.Data.ID)
	require.NotNil(t, apiResp.Data.Report)
	assert.Len(t, apiResp.Data.Report.Functions, 3)

	t.Logf("✅ 端到端流程通过: 会话 %s", rep.SessionID)
}

// TestFailureKeepsPartialSession 入口失败时部分会话仍可归档诊断
func TestFailureKeepsPartialSession(t *testing.T) {
	timer := lineprof.NewLineTimer()
	workloads := testutil.NewWorkloads(timer, testutil.WithDelays(time.Millisecond, time.Millisecond))
	require.NoError(t, workloads.RegisterAll())

	boom := assert.AnError
	session, err := timer.RunSession(func() error {
		workloads.BadCall()
		return boom
	})
	require.ErrorIs(t, err, boom)

	sa := testutil.NewSessionAssertions(t)
	sa.AssertFinalized(session)
	sa.AssertFunctionHit(session, "(*Workloads).BadCall", 1)
	assert.NotEmpty(t, session.EntryErr)

	// 部分会话照样可以归档
	rep := report.Build(session, report.UnitMicrosecond)
	store := archive.NewMemoryStore()
	defer store.Close()
	require.NoError(t, store.Put(context.Background(), archive.NewRecord(rep)))

	rec, err := store.Get(context.Background(), rep.SessionID)
	require.NoError(t, err)
	assert.Equal(t, rep.EntryErr, rec.Report.EntryErr)
}
