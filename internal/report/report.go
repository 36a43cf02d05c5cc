// Package report 把定格后的观测会话渲染为报告：
// line_profiler风格的文本表格，或JSON结构。
package report

import (
	"encoding/json"
	"time"

	"GoLineProfiler/internal/lineprof"
)

// Row 报告中的一行
type Row struct {
	Line        int     `json:"line"`
	Hits        int64   `json:"hits"`
	TotalTimeNs int64   `json:"total_time_ns"`
	PerHitNs    int64   `json:"per_hit_ns"`
	PercentTime float64 `json:"percent_time"`
}

// FunctionReport 单个函数的报告块
type FunctionReport struct {
	Name        string `json:"name"`
	ShortName   string `json:"short_name"`
	File        string `json:"file"`
	EntryLine   int    `json:"entry_line"`
	Calls       int64  `json:"calls"`
	TotalTimeNs int64  `json:"total_time_ns"`
	Rows        []Row  `json:"rows"`
}

// Report 一次会话的完整报告
type Report struct {
	SessionID   string           `json:"session_id"`
	GeneratedAt time.Time        `json:"generated_at"`
	StartedAt   time.Time        `json:"started_at"`
	DurationNs  int64            `json:"duration_ns"`
	Unit        string           `json:"unit"`
	EntryErr    string           `json:"entry_error,omitempty"`
	Functions   []FunctionReport `json:"functions"`
}

// Build 从定格的会话构建报告。函数按首次调用顺序，
// 行按行号升序；PerHit = Total/Hits；百分比相对函数内总耗时。
func Build(session *lineprof.Session, unit Unit) *Report {
	rep := &Report{
		SessionID:   session.ID,
		GeneratedAt: time.Now(),
		StartedAt:   session.StartTime,
		DurationNs:  session.Duration.Nanoseconds(),
		Unit:        unit.Label(),
		EntryErr:    session.EntryErr,
		Functions:   []FunctionReport{},
	}

	for _, fp := range session.Functions() {
		funcTotal := fp.TotalTime().Nanoseconds()

		fr := FunctionReport{
			Name:        fp.Name,
			ShortName:   fp.ShortName,
			File:        fp.File,
			EntryLine:   fp.EntryLine,
			Calls:       fp.Calls,
			TotalTimeNs: funcTotal,
			Rows:        []Row{},
		}

		for _, rec := range fp.Lines() {
			row := Row{
				Line:        rec.Line,
				Hits:        rec.Hits,
				TotalTimeNs: rec.TotalTime.Nanoseconds(),
			}
			if rec.Hits > 0 {
				row.PerHitNs = row.TotalTimeNs / rec.Hits
			}
			if funcTotal > 0 {
				row.PercentTime = 100 * float64(row.TotalTimeNs) / float64(funcTotal)
			}
			fr.Rows = append(fr.Rows, row)
		}

		rep.Functions = append(rep.Functions, fr)
	}

	return rep
}

// ExportJSON 报告的JSON编码
func (r *Report) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ParseJSON 从JSON还原报告
func ParseJSON(data []byte) (*Report, error) {
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}
