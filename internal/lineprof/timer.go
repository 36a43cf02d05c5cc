// Package lineprof 实现逐行执行计时器：对注册的目标函数，
// 在一次观测会话内统计每个源码行的命中次数和累计耗时。
//
// 目标函数通过显式探针上报行边界：函数体开头 defer t.Enter()()，
// 每个逻辑行的行首同行调用 t.Mark()。Mark通过runtime.Caller解析
// 调用点的文件与行号，把自上一次边界以来的耗时记到刚执行完的行上。
// 已注册的被调函数独占自己的耗时（exclusive）；未注册的被调函数
// 不产生边界，其壁钟时间落在调用行上（inclusive回退）。
package lineprof

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrNotAFunction 注册对象不是函数
	ErrNotAFunction = errors.New("lineprof: not a function")
	// ErrSessionActive 计时器上已有活动会话
	ErrSessionActive = errors.New("lineprof: session already active")
	// ErrNoTargetHit 入口调用没有到达任何已注册的目标函数
	ErrNoTargetHit = errors.New("lineprof: no registered target was hit")
	// ErrNilEntry 入口调用为空
	ErrNilEntry = errors.New("lineprof: nil entry call")
)

// noopLeave 非活动状态下Enter返回的空操作
func noopLeave() {}

// LineTimer 逐行计时器，同一实例同时只允许一个活动会话
type LineTimer struct {
	mu      sync.RWMutex
	targets map[string]*Target
	session *Session
	last    *Session

	active atomic.Bool
	seq    atomic.Int64

	now func() time.Time
}

// Option 计时器选项
type Option func(*LineTimer)

// WithClock 注入时间源，测试中用于确定性计时
func WithClock(now func() time.Time) Option {
	return func(t *LineTimer) {
		if now != nil {
			t.now = now
		}
	}
}

// NewLineTimer 创建逐行计时器
func NewLineTimer(opts ...Option) *LineTimer {
	t := &LineTimer{
		targets: make(map[string]*Target),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register 把一个函数标记为观测目标。重复注册同一函数无额外效果。
// 会话进行中不允许变更目标集合。
func (t *LineTimer) Register(fn interface{}) error {
	target, err := resolveTarget(fn)
	if err != nil {
		return err
	}

	if t.active.Load() {
		return fmt.Errorf("%w: cannot register %s", ErrSessionActive, target.ShortName)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.targets[target.Name]; ok {
		return nil
	}
	t.targets[target.Name] = target
	return nil
}

// Targets 返回已注册目标的副本
func (t *LineTimer) Targets() []*Target {
	t.mu.RLock()
	defer t.mu.RUnlock()

	targets := make([]*Target, 0, len(t.targets))
	for _, tg := range t.targets {
		cp := *tg
		targets = append(targets, &cp)
	}
	return targets
}

// RunSession 在观测下执行entry并返回定格后的会话。
//
// entry返回错误或panic时，会话先定格再原样向调用方传播，
// 部分数据仍可通过返回值或LastSession取回。
// 入口调用没有命中任何目标时返回包装的ErrNoTargetHit，
// 会话本身有效（空报告），调用方可以选择忽略该错误。
func (t *LineTimer) RunSession(entry func() error) (*Session, error) {
	if entry == nil {
		return nil, ErrNilEntry
	}
	if !t.active.CompareAndSwap(false, true) {
		return nil, ErrSessionActive
	}

	s := newSession(fmt.Sprintf("session_%d_%d", t.now().Unix(), t.seq.Add(1)), t.now)

	t.mu.Lock()
	t.session = s
	t.mu.Unlock()

	// panic路径也要定格并释放计时器
	defer func() {
		s.finalize()
		t.mu.Lock()
		t.session = nil
		t.last = s
		t.mu.Unlock()
		t.active.Store(false)
	}()

	if err := entry(); err != nil {
		s.EntryErr = err.Error()
		return s, err
	}

	if s.Empty() {
		return s, fmt.Errorf("%w: entry call finished without reaching any of %d target(s)",
			ErrNoTargetHit, len(t.Targets()))
	}
	return s, nil
}

// LastSession 最近一次定格的会话；entry panic后仍可取回部分数据
func (t *LineTimer) LastSession() *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// Active 是否有会话正在进行
func (t *LineTimer) Active() bool {
	return t.active.Load()
}

// Enter 目标函数的入口探针，用法：defer t.Enter()()。
// 返回的leave函数关闭该帧并把剩余耗时记到最后执行的行上。
// 没有活动会话或调用方未注册时是廉价空操作。
func (t *LineTimer) Enter() func() {
	if !t.active.Load() {
		return noopLeave
	}

	pc, _, _, ok := runtime.Caller(1)
	if !ok {
		return noopLeave
	}
	rf := runtime.FuncForPC(pc)
	if rf == nil {
		return noopLeave
	}

	t.mu.RLock()
	target, registered := t.targets[strings.TrimSuffix(rf.Name(), "-fm")]
	s := t.session
	t.mu.RUnlock()

	if !registered || s == nil {
		return noopLeave
	}

	s.enter(target)
	return func() { s.leave(target) }
}

// Mark 行边界探针，写在所测行的行首同一行上。
// 命中计数归当前行，耗时归上一个边界对应的行。
func (t *LineTimer) Mark() {
	if !t.active.Load() {
		return
	}

	pc, _, line, ok := runtime.Caller(1)
	if !ok {
		return
	}
	rf := runtime.FuncForPC(pc)
	if rf == nil {
		return
	}

	t.mu.RLock()
	s := t.session
	t.mu.RUnlock()
	if s == nil {
		return
	}

	s.mark(strings.TrimSuffix(rf.Name(), "-fm"), line)
}
