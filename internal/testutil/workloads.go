// Package testutil 提供带探针的示例工作负载和针对会话/报告的断言助手。
package testutil

import (
	"time"

	"GoLineProfiler/internal/lineprof"
)

// Workloads 绑定到一个计时器的示例工作负载。
// Sumulate做一段循环累加，然后各调用一次BadCall与WorseCall；
// BadCall默认睡0.5s，WorseCall默认睡1s。延迟可注入以便测试加速。
type Workloads struct {
	timer          *lineprof.LineTimer
	badCallDelay   time.Duration
	worseCallDelay time.Duration
	sleep          func(time.Duration)
}

// WorkloadOption 工作负载选项
type WorkloadOption func(*Workloads)

// WithDelays 覆盖BadCall/WorseCall的睡眠时长
func WithDelays(bad, worse time.Duration) WorkloadOption {
	return func(w *Workloads) {
		w.badCallDelay = bad
		w.worseCallDelay = worse
	}
}

// WithSleepFunc 注入睡眠实现，配合假时钟做确定性测试
func WithSleepFunc(sleep func(time.Duration)) WorkloadOption {
	return func(w *Workloads) {
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

// NewWorkloads 创建绑定到timer的工作负载
func NewWorkloads(timer *lineprof.LineTimer, opts ...WorkloadOption) *Workloads {
	w := &Workloads{
		timer:          timer,
		badCallDelay:   500 * time.Millisecond,
		worseCallDelay: time.Second,
		sleep:          time.Sleep,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RegisterAll 把三个工作负载都注册为观测目标
func (w *Workloads) RegisterAll() error {
	if err := w.timer.Register(w.Sumulate); err != nil {
		return err
	}
	if err := w.timer.Register(w.BadCall); err != nil {
		return err
	}
	return w.timer.Register(w.WorseCall)
}

// Sumulate 循环累加n次平方和，然后各调用一次BadCall与WorseCall。
// 探针写在所测行的行首同一行上。
func (w *Workloads) Sumulate(n int) float64 {
	defer w.timer.Enter()()

	w.timer.Mark(); total := 0.0
	for i := 0; i < n; i++ {
		w.timer.Mark(); total += float64(i) * float64(i)
	}
	w.timer.Mark(); w.BadCall()
	w.timer.Mark(); w.WorseCall()
	w.timer.Mark(); return total
}

// BadCall 睡badCallDelay，模拟一个慢调用
func (w *Workloads) BadCall() {
	defer w.timer.Enter()()

	w.timer.Mark(); w.sleep(w.badCallDelay)
}

// WorseCall 睡worseCallDelay，模拟一个更慢的调用
func (w *Workloads) WorseCall() {
	defer w.timer.Enter()()

	w.timer.Mark(); w.sleep(w.worseCallDelay)
}
