package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"GoLineProfiler/internal/lineprof"
	"GoLineProfiler/internal/report"
	"GoLineProfiler/internal/testutil"
)

func main() {
	fmt.Println("🎯 逐行计时器端到端演示")
	fmt.Println("========================")
	fmt.Println()

	// 1. 创建计时器并注册目标
	fmt.Println("📝 注册观测目标...")
	timer := lineprof.NewLineTimer()
	workloads := testutil.NewWorkloads(timer,
		testutil.WithDelays(50*time.Millisecond, 100*time.Millisecond))
	if err := workloads.RegisterAll(); err != nil {
		log.Fatalf("注册目标失败: %v", err)
	}
	for _, tg := range timer.Targets() {
		fmt.Printf("  ✅ %s (%s:%d)\n", tg.ShortName, tg.File, tg.EntryLine)
	}

	// 2. 在观测下执行入口调用
	fmt.Println("\n⏱️  运行 Sumulate(150)...")
	session, err := timer.RunSession(func() error {
		workloads.Sumulate(150)
		return nil
	})
	if err != nil {
		log.Fatalf("会话失败: %v", err)
	}
	fmt.Printf("✅ 会话完成: %s，总时长 %v\n", session.ID, session.Duration)

	// 3. 渲染报告
	fmt.Println()
	rep := report.Build(session, report.UnitMicrosecond)
	if err := report.Render(os.Stdout, rep); err != nil {
		log.Fatalf("渲染报告失败: %v", err)
	}
}
