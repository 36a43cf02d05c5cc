package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoLineProfiler/internal/lineprof"
	"GoLineProfiler/internal/report"
)

// SessionAssertions 针对会话与报告的断言助手
type SessionAssertions struct {
	t *testing.T
}

// NewSessionAssertions 创建断言助手
func NewSessionAssertions(t *testing.T) *SessionAssertions {
	return &SessionAssertions{t: t}
}

// AssertFinalized 断言会话已定格
func (sa *SessionAssertions) AssertFinalized(session *lineprof.Session) {
	require.NotNil(sa.t, session, "session is nil")
	require.True(sa.t, session.Finalized(), "session not finalized")
	sa.t.Logf("✅ Session finalized: %s (%v)", session.ID, session.Duration)
}

// AssertFunctionHit 断言函数被调用了指定次数，返回其画像
func (sa *SessionAssertions) AssertFunctionHit(session *lineprof.Session, shortName string, calls int64) *lineprof.FunctionProfile {
	fp := session.Function(shortName)
	require.NotNil(sa.t, fp, "function %s not found in session", shortName)
	assert.Equal(sa.t, calls, fp.Calls, "unexpected call count for %s", shortName)
	sa.t.Logf("✅ Function %s hit %d time(s), total %v", shortName, fp.Calls, fp.TotalTime())
	return fp
}

// AssertLineHits 断言函数内存在命中次数恰好为hits的行
func (sa *SessionAssertions) AssertLineHits(fp *lineprof.FunctionProfile, hits int64) lineprof.LineRecord {
	for _, rec := range fp.Lines() {
		if rec.Hits == hits {
			sa.t.Logf("✅ Line %d of %s hit %d time(s)", rec.Line, fp.ShortName, hits)
			return rec
		}
	}
	sa.t.Fatalf("no line with %d hits in %s", hits, fp.ShortName)
	return lineprof.LineRecord{}
}

// AssertTotalWithin 断言函数总耗时落在[min,max]区间
func (sa *SessionAssertions) AssertTotalWithin(fp *lineprof.FunctionProfile, min, max time.Duration) {
	total := fp.TotalTime()
	assert.GreaterOrEqual(sa.t, total, min, "%s total time below %v", fp.ShortName, min)
	assert.LessOrEqual(sa.t, total, max, "%s total time above %v", fp.ShortName, max)
	sa.t.Logf("✅ %s total time %v within [%v, %v]", fp.ShortName, total, min, max)
}

// AssertPercentagesSum 断言报告里每个函数的百分比之和约等于100
func (sa *SessionAssertions) AssertPercentagesSum(rep *report.Report) {
	for _, fn := range rep.Functions {
		if fn.TotalTimeNs == 0 {
			// 零耗时函数没有可归一的百分比
			continue
		}
		var sum float64
		for _, row := range fn.Rows {
			sum += row.PercentTime
		}
		assert.InDelta(sa.t, 100.0, sum, 0.05, "percent sum for %s", fn.ShortName)
	}
	sa.t.Logf("✅ Percentages sum to ~100 across %d function(s)", len(rep.Functions))
}
