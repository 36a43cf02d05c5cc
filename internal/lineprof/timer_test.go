package lineprof

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRegisterValidation 测试注册参数校验
func TestRegisterValidation(t *testing.T) {
	timer := NewLineTimer()

	err := timer.Register(nil)
	assert.ErrorIs(t, err, ErrNotAFunction)

	err = timer.Register(42)
	assert.ErrorIs(t, err, ErrNotAFunction)

	err = timer.Register("not a func")
	assert.ErrorIs(t, err, ErrNotAFunction)

	require.NoError(t, timer.Register(func() {}))
}

// TestRegisterIdempotent 测试重复注册同一函数无额外效果
func TestRegisterIdempotent(t *testing.T) {
	timer := NewLineTimer()

	fn := func() {}
	require.NoError(t, timer.Register(fn))
	require.NoError(t, timer.Register(fn))

	targets := timer.Targets()
	assert.Len(t, targets, 1)
	assert.NotEmpty(t, targets[0].Name)
	assert.NotEmpty(t, targets[0].File)
	assert.Greater(t, targets[0].EntryLine, 0)
}

// TestRunSessionNilEntry 测试空入口调用
func TestRunSessionNilEntry(t *testing.T) {
	timer := NewLineTimer()

	session, err := timer.RunSession(nil)
	assert.ErrorIs(t, err, ErrNilEntry)
	assert.Nil(t, session)
}

// TestRunSessionNoTargetHit 测试入口没有命中任何目标的情形
func TestRunSessionNoTargetHit(t *testing.T) {
	timer := NewLineTimer()
	require.NoError(t, timer.Register(func() {}))

	session, err := timer.RunSession(func() error {
		return nil // 从不调用目标
	})

	assert.ErrorIs(t, err, ErrNoTargetHit)
	require.NotNil(t, session)
	assert.True(t, session.Empty())
	assert.True(t, session.Finalized())
	assert.Empty(t, session.Functions())

	t.Logf("✅ 空会话按策略返回: %v", err)
}

// TestRunSessionReentrancy 测试同一计时器上的并发会话被拒绝
func TestRunSessionReentrancy(t *testing.T) {
	timer := NewLineTimer()

	block := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := timer.RunSession(func() error {
			close(started)
			<-block
			return nil
		})
		done <- err
	}()

	<-started
	assert.True(t, timer.Active())

	// 第二个会话必须失败，且不影响进行中的会话
	session, err := timer.RunSession(func() error { return nil })
	assert.ErrorIs(t, err, ErrSessionActive)
	assert.Nil(t, session)
	assert.True(t, timer.Active())

	close(block)
	err = <-done
	assert.ErrorIs(t, err, ErrNoTargetHit)
	assert.False(t, timer.Active())
}

// TestRegisterDuringSession 测试会话进行中禁止变更目标集合
func TestRegisterDuringSession(t *testing.T) {
	timer := NewLineTimer()

	block := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		timer.RunSession(func() error {
			close(started)
			<-block
			return nil
		})
	}()

	<-started
	err := timer.Register(func() {})
	assert.ErrorIs(t, err, ErrSessionActive)

	close(block)
	<-done
}

// TestRunSessionEntryError 测试入口错误在定格后原样传播且部分数据可取
func TestRunSessionEntryError(t *testing.T) {
	timer := NewLineTimer()

	target := func() {
		defer timer.Enter()()
		timer.Mark()
	}
	require.NoError(t, timer.Register(target))

	boom := errors.New("boom")
	session, err := timer.RunSession(func() error {
		target()
		return fmt.Errorf("entry failed: %w", boom)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, session)
	assert.True(t, session.Finalized())
	assert.Equal(t, "entry failed: boom", session.EntryErr)

	// 失败前执行过的行保留非零命中
	funcs := session.Functions()
	require.Len(t, funcs, 1)
	lines := funcs[0].Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, int64(1), lines[0].Hits)
}

// TestRunSessionEntryPanic 测试panic原样传播且会话仍可通过LastSession取回
func TestRunSessionEntryPanic(t *testing.T) {
	timer := NewLineTimer()

	target := func() {
		defer timer.Enter()()
		timer.Mark()
		panic("kaboom")
	}
	require.NoError(t, timer.Register(target))

	assert.PanicsWithValue(t, "kaboom", func() {
		timer.RunSession(func() error {
			target()
			return nil
		})
	})

	assert.False(t, timer.Active())

	session := timer.LastSession()
	require.NotNil(t, session)
	assert.True(t, session.Finalized())

	funcs := session.Functions()
	require.Len(t, funcs, 1)
	lines := funcs[0].Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, int64(1), lines[0].Hits)

	t.Logf("✅ panic后部分会话可用: %d 个函数", len(funcs))
}

// TestRunSessionNoStaleState 测试连续会话之间没有状态泄漏
func TestRunSessionNoStaleState(t *testing.T) {
	timer := NewLineTimer()

	target := func(n int) {
		defer timer.Enter()()
		for i := 0; i < n; i++ {
			timer.Mark()
		}
	}
	require.NoError(t, timer.Register(target))

	first, err := timer.RunSession(func() error {
		target(10)
		return nil
	})
	require.NoError(t, err)

	second, err := timer.RunSession(func() error {
		target(10)
		return nil
	})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)

	firstLines := first.Functions()[0].Lines()
	secondLines := second.Functions()[0].Lines()
	require.Len(t, firstLines, 1)
	require.Len(t, secondLines, 1)

	// 第二次会话独立计数，而不是在第一次之上累加
	assert.Equal(t, int64(10), firstLines[0].Hits)
	assert.Equal(t, int64(10), secondLines[0].Hits)
}

// TestProbesInactiveAreNoop 测试非活动状态下探针是空操作
func TestProbesInactiveAreNoop(t *testing.T) {
	timer := NewLineTimer()

	fn := func() {
		defer timer.Enter()()
		timer.Mark()
	}
	require.NoError(t, timer.Register(fn))

	// 会话外直接调用不应panic，也不应留下任何记录
	fn()

	assert.Nil(t, timer.LastSession())
	assert.False(t, timer.Active())
}

// TestUnregisteredEnterIgnored 测试未注册函数的Enter是空操作
func TestUnregisteredEnterIgnored(t *testing.T) {
	timer := NewLineTimer()

	registered := func() {
		defer timer.Enter()()
		timer.Mark()
	}
	unregistered := func() {
		defer timer.Enter()()
		timer.Mark()
	}
	require.NoError(t, timer.Register(registered))

	session, err := timer.RunSession(func() error {
		registered()
		unregistered()
		return nil
	})
	require.NoError(t, err)

	funcs := session.Functions()
	require.Len(t, funcs, 1)
	assert.Equal(t, int64(1), funcs[0].Calls)
}

// TestSessionExportJSON 测试会话JSON导出
func TestSessionExportJSON(t *testing.T) {
	timer := NewLineTimer()

	target := func() {
		defer timer.Enter()()
		timer.Mark()
		timer.Mark()
	}
	require.NoError(t, timer.Register(target))

	session, err := timer.RunSession(func() error {
		target()
		return nil
	})
	require.NoError(t, err)

	data, err := session.ExportJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), session.ID)
	assert.Contains(t, string(data), `"functions"`)
	assert.Contains(t, string(data), `"lines"`)
}

// TestSessionDurationMonotonic 测试会话时长来自注入的时间源
func TestSessionDurationMonotonic(t *testing.T) {
	clk := newFakeClock()
	timer := NewLineTimer(WithClock(clk.Now))

	target := func() {
		defer timer.Enter()()
		timer.Mark()
		clk.Advance(250 * time.Millisecond)
	}
	require.NoError(t, timer.Register(target))

	session, err := timer.RunSession(func() error {
		target()
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, session.Duration)
}
