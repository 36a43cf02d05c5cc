// Package analyzer 扫描定格后的逐行报告，产出热点发现与优化建议。
package analyzer

import (
	"fmt"
	"sort"
	"time"

	"GoLineProfiler/internal/report"
)

// Severity 发现的严重程度
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// FindingKind 发现类型
type FindingKind string

const (
	// FindingHotLine 单行占函数耗时比例过高
	FindingHotLine FindingKind = "hot_line"
	// FindingDominantCall 单次命中的行支配整个函数
	FindingDominantCall FindingKind = "dominant_call"
	// FindingTightLoop 高频低单次耗时的循环行
	FindingTightLoop FindingKind = "tight_loop"
)

// Finding 一条分析发现
type Finding struct {
	Kind        FindingKind `json:"kind"`
	Severity    Severity    `json:"severity"`
	Function    string      `json:"function"`
	File        string      `json:"file"`
	Line        int         `json:"line"`
	Score       float64     `json:"score"` // 0-100，越高越值得优化
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Suggestion  string      `json:"suggestion"`
}

// Thresholds 分析阈值
type Thresholds struct {
	HotLinePercent      float64       `json:"hot_line_percent"`      // 热点行占比阈值
	DominantCallPercent float64       `json:"dominant_call_percent"` // 支配调用占比阈值
	TightLoopHits       int64         `json:"tight_loop_hits"`       // 紧密循环最小命中次数
	TightLoopPerHit     time.Duration `json:"tight_loop_per_hit"`    // 紧密循环单次耗时上限
}

// DefaultThresholds 默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		HotLinePercent:      40.0,
		DominantCallPercent: 80.0,
		TightLoopHits:       100,
		TightLoopPerHit:     time.Millisecond,
	}
}

// Analyzer 报告分析器
type Analyzer struct {
	thresholds Thresholds
}

// New 创建分析器
func New(thresholds Thresholds) *Analyzer {
	if thresholds.HotLinePercent <= 0 {
		thresholds = DefaultThresholds()
	}
	return &Analyzer{thresholds: thresholds}
}

// Analyze 扫描报告，返回按分数降序排列的发现
func (a *Analyzer) Analyze(rep *report.Report) []Finding {
	var findings []Finding

	for _, fn := range rep.Functions {
		findings = append(findings, a.analyzeFunction(fn)...)
	}

	sort.Slice(findings, func(i, j int) bool {
		return findings[i].Score > findings[j].Score
	})
	return findings
}

// analyzeFunction 对单个函数应用全部规则
func (a *Analyzer) analyzeFunction(fn report.FunctionReport) []Finding {
	var findings []Finding

	for _, row := range fn.Rows {
		if f, ok := a.checkDominantCall(fn, row); ok {
			findings = append(findings, f)
			continue // 支配调用已经覆盖热点行规则
		}
		if f, ok := a.checkHotLine(fn, row); ok {
			findings = append(findings, f)
		}
		if f, ok := a.checkTightLoop(fn, row); ok {
			findings = append(findings, f)
		}
	}
	return findings
}

// checkHotLine 热点行规则
func (a *Analyzer) checkHotLine(fn report.FunctionReport, row report.Row) (Finding, bool) {
	if row.PercentTime < a.thresholds.HotLinePercent {
		return Finding{}, false
	}

	severity := SeverityMedium
	if row.PercentTime >= 2*a.thresholds.HotLinePercent {
		severity = SeverityHigh
	}

	return Finding{
		Kind:     FindingHotLine,
		Severity: severity,
		Function: fn.ShortName,
		File:     fn.File,
		Line:     row.Line,
		Score:    row.PercentTime,
		Title:    fmt.Sprintf("%s:%d 占函数耗时 %.1f%%", fn.ShortName, row.Line, row.PercentTime),
		Description: fmt.Sprintf("该行命中 %d 次，累计 %s，占 %s 总耗时的 %.1f%%",
			row.Hits, time.Duration(row.TotalTimeNs), fn.ShortName, row.PercentTime),
		Suggestion: "优先优化该行：检查是否有可缓存的重复计算或可下沉的调用",
	}, true
}

// checkDominantCall 支配调用规则：单次命中的行吃掉了几乎全部耗时
func (a *Analyzer) checkDominantCall(fn report.FunctionReport, row report.Row) (Finding, bool) {
	if row.Hits != 1 || row.PercentTime < a.thresholds.DominantCallPercent {
		return Finding{}, false
	}

	return Finding{
		Kind:     FindingDominantCall,
		Severity: SeverityHigh,
		Function: fn.ShortName,
		File:     fn.File,
		Line:     row.Line,
		Score:    row.PercentTime,
		Title:    fmt.Sprintf("%s:%d 的一次调用支配了整个函数", fn.ShortName, row.Line),
		Description: fmt.Sprintf("单次命中耗时 %s，占 %s 总耗时的 %.1f%%",
			time.Duration(row.TotalTimeNs), fn.ShortName, row.PercentTime),
		Suggestion: "把该调用注册为独立观测目标，获得它内部的逐行归属",
	}, true
}

// checkTightLoop 紧密循环规则：命中多、单次便宜，总量仍可观
func (a *Analyzer) checkTightLoop(fn report.FunctionReport, row report.Row) (Finding, bool) {
	if row.Hits < a.thresholds.TightLoopHits {
		return Finding{}, false
	}
	if time.Duration(row.PerHitNs) > a.thresholds.TightLoopPerHit {
		return Finding{}, false
	}

	score := row.PercentTime / 2
	if score < 5 {
		score = 5
	}

	return Finding{
		Kind:     FindingTightLoop,
		Severity: SeverityLow,
		Function: fn.ShortName,
		File:     fn.File,
		Line:     row.Line,
		Score:    score,
		Title:    fmt.Sprintf("%s:%d 是命中 %d 次的紧密循环行", fn.ShortName, row.Line, row.Hits),
		Description: fmt.Sprintf("单次仅 %s，但累计 %s（%.1f%%）",
			time.Duration(row.PerHitNs), time.Duration(row.TotalTimeNs), row.PercentTime),
		Suggestion: "考虑批量化循环体或减少迭代次数；探针本身的开销在这类行上也最明显",
	}, true
}
