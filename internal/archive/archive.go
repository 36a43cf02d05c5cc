// Package archive 归档定格后的剖析会话，供事后查询与对比。
package archive

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"GoLineProfiler/internal/report"
)

var (
	// ErrNotFound 指定ID的会话不存在
	ErrNotFound = errors.New("archive: session not found")
	// ErrClosed 存储已关闭
	ErrClosed = errors.New("archive: store closed")
)

// Record 一条归档记录
type Record struct {
	ID        string         `json:"id"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration_ns"`
	Report    *report.Report `json:"report"`
}

// NewRecord 从报告构建归档记录
func NewRecord(rep *report.Report) *Record {
	return &Record{
		ID:        rep.SessionID,
		StartedAt: rep.StartedAt,
		Duration:  time.Duration(rep.DurationNs),
		Report:    rep,
	}
}

// Store 会话归档存储
type Store interface {
	// Put 写入或覆盖一条记录
	Put(ctx context.Context, rec *Record) error
	// Get 按会话ID取回记录
	Get(ctx context.Context, id string) (*Record, error)
	// List 按开始时间降序返回最多limit条记录
	List(ctx context.Context, limit int) ([]*Record, error)
	// Close 释放底层资源
	Close() error
}

// MemoryStore 进程内存储，测试与仪表板的默认后端
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	closed  bool
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Put 写入记录
func (s *MemoryStore) Put(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

// Get 取回记录
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// List 按开始时间降序列出
func (s *MemoryStore) List(_ context.Context, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	records := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		cp := *rec
		records = append(records, &cp)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Close 关闭存储
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
