package lineprof

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// LineRecord 单行的命中与耗时记录
type LineRecord struct {
	Line      int           `json:"line"`
	Hits      int64         `json:"hits"`
	TotalTime time.Duration `json:"total_time_ns"`
}

// FunctionProfile 单个目标函数的逐行画像
type FunctionProfile struct {
	Name      string `json:"name"`
	ShortName string `json:"short_name"`
	File      string `json:"file"`
	EntryLine int    `json:"entry_line"`
	Ordinal   int    `json:"ordinal"` // 首次调用顺序，从0开始
	Calls     int64  `json:"calls"`

	records map[int]*LineRecord
}

// record 懒创建指定行的记录
func (fp *FunctionProfile) record(line int) *LineRecord {
	rec, ok := fp.records[line]
	if !ok {
		rec = &LineRecord{Line: line}
		fp.records[line] = rec
	}
	return rec
}

// Lines 按行号升序返回所有行记录的副本
func (fp *FunctionProfile) Lines() []LineRecord {
	lines := make([]LineRecord, 0, len(fp.records))
	for _, rec := range fp.records {
		lines = append(lines, *rec)
	}
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].Line < lines[j].Line
	})
	return lines
}

// TotalTime 函数内所有行的累计耗时
func (fp *FunctionProfile) TotalTime() time.Duration {
	var total time.Duration
	for _, rec := range fp.records {
		total += rec.TotalTime
	}
	return total
}

// frame 活动调用栈帧
type frame struct {
	fn       *FunctionProfile
	current  int       // 正在执行的行，0表示还没有行边界
	lastMark time.Time // 上一次行边界的时刻
}

// Session 一次观测会话，由RunSession创建并在结束时定格为只读
type Session struct {
	ID        string        `json:"id"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration_ns"`
	EntryErr  string        `json:"entry_error,omitempty"`

	mu        sync.Mutex
	funcs     map[string]*FunctionProfile
	order     []string
	stack     []*frame
	now       func() time.Time
	finalized bool
}

// newSession 创建新会话
func newSession(id string, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	return &Session{
		ID:        id,
		StartTime: now(),
		funcs:     make(map[string]*FunctionProfile),
		now:       now,
	}
}

// top 当前栈顶帧
func (s *Session) top() *frame {
	if len(s.stack) == 0 {
		return nil
	}
	return s.stack[len(s.stack)-1]
}

// chargeLocked 把自上一次边界以来的耗时记到帧的当前行上
func (s *Session) chargeLocked(f *frame, now time.Time) {
	rec := f.fn.record(f.current)
	rec.TotalTime += now.Sub(f.lastMark)
	f.lastMark = now
}

// enter 进入一个已注册的目标函数
func (s *Session) enter(tg *Target) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return
	}

	now := s.now()

	// 关闭调用方的当前计时窗口（调用前片段归属调用行）
	if top := s.top(); top != nil && top.current != 0 {
		s.chargeLocked(top, now)
	}

	fp, ok := s.funcs[tg.Name]
	if !ok {
		fp = &FunctionProfile{
			Name:      tg.Name,
			ShortName: tg.ShortName,
			File:      tg.File,
			EntryLine: tg.EntryLine,
			Ordinal:   len(s.order),
			records:   make(map[int]*LineRecord),
		}
		s.funcs[tg.Name] = fp
		s.order = append(s.order, tg.Name)
	}
	fp.Calls++

	s.stack = append(s.stack, &frame{fn: fp, lastMark: now})
}

// mark 记录一次行边界
func (s *Session) mark(fnName string, line int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return
	}

	top := s.top()
	if top == nil || top.fn.Name != fnName {
		// 边界来自未入栈的函数，视为不透明调用内部，忽略
		return
	}

	now := s.now()
	if top.current != 0 {
		s.chargeLocked(top, now)
	} else {
		top.lastMark = now
	}

	top.fn.record(line).Hits++
	top.current = line
	top.lastMark = now
}

// leave 离开目标函数，剩余耗时归属其最后执行的行
func (s *Session) leave(tg *Target) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return
	}

	top := s.top()
	if top == nil || top.fn.Name != tg.Name {
		return
	}

	now := s.now()
	if top.current != 0 {
		s.chargeLocked(top, now)
	}
	s.stack = s.stack[:len(s.stack)-1]

	// 调用返回后的片段重新归属调用方的调用行
	if caller := s.top(); caller != nil {
		caller.lastMark = now
	}
}

// finalize 定格会话；异常退出时展开所有残留栈帧
func (s *Session) finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return
	}

	now := s.now()
	for len(s.stack) > 0 {
		top := s.top()
		if top.current != 0 {
			s.chargeLocked(top, now)
		}
		s.stack = s.stack[:len(s.stack)-1]
		if caller := s.top(); caller != nil {
			caller.lastMark = now
		}
	}

	s.EndTime = now
	s.Duration = s.EndTime.Sub(s.StartTime)
	s.finalized = true
}

// Finalized 会话是否已定格
func (s *Session) Finalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

// Empty 会话是否没有命中任何目标函数
func (s *Session) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order) == 0
}

// Functions 按首次调用顺序返回所有函数画像的副本
func (s *Session) Functions() []*FunctionProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	funcs := make([]*FunctionProfile, 0, len(s.order))
	for _, name := range s.order {
		fp := s.funcs[name]
		clone := &FunctionProfile{
			Name:      fp.Name,
			ShortName: fp.ShortName,
			File:      fp.File,
			EntryLine: fp.EntryLine,
			Ordinal:   fp.Ordinal,
			Calls:     fp.Calls,
			records:   make(map[int]*LineRecord, len(fp.records)),
		}
		for line, rec := range fp.records {
			cp := *rec
			clone.records[line] = &cp
		}
		funcs = append(funcs, clone)
	}
	return funcs
}

// Function 按完整名称查找函数画像，未命中返回nil
func (s *Session) Function(name string) *FunctionProfile {
	for _, fp := range s.Functions() {
		if fp.Name == name || fp.ShortName == name {
			return fp
		}
	}
	return nil
}

// sessionJSON 序列化用的中间结构
type sessionJSON struct {
	ID        string         `json:"id"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Duration  time.Duration  `json:"duration_ns"`
	EntryErr  string         `json:"entry_error,omitempty"`
	Functions []functionJSON `json:"functions"`
}

type functionJSON struct {
	FunctionProfile
	LineRecords []LineRecord `json:"lines"`
}

// ExportJSON 导出会话为JSON
func (s *Session) ExportJSON() ([]byte, error) {
	funcs := s.Functions()

	out := sessionJSON{
		ID:        s.ID,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Duration:  s.Duration,
		EntryErr:  s.EntryErr,
		Functions: make([]functionJSON, 0, len(funcs)),
	}
	for _, fp := range funcs {
		out.Functions = append(out.Functions, functionJSON{
			FunctionProfile: *fp,
			LineRecords:     fp.Lines(),
		})
	}

	return json.MarshalIndent(out, "", "  ")
}
