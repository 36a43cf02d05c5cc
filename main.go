package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"GoLineProfiler/internal/analyzer"
	"GoLineProfiler/internal/archive"
	"GoLineProfiler/internal/config"
	"GoLineProfiler/internal/lineprof"
	"GoLineProfiler/internal/logger"
	"GoLineProfiler/internal/report"
	"GoLineProfiler/internal/testutil"
	"GoLineProfiler/pkg/dashboard"
)

func main() {
	var (
		mode        = flag.String("mode", "demo", "运行模式: demo, profile, dashboard")
		configPath  = flag.String("config", "", "配置文件路径，空则按默认路径搜索")
		iterations  = flag.Int("n", 0, "Sumulate循环次数，0表示使用配置值")
		output      = flag.String("output", "", "报告输出文件，空表示stdout")
		format      = flag.String("format", "", "报告格式: table, json，空表示使用配置值")
		archiveFlag = flag.Bool("archive", false, "把会话写入归档")
		addr        = flag.String("addr", "", "仪表板监听地址，空表示使用配置值")
		watch       = flag.Bool("watch", false, "监控配置文件变化")
	)
	flag.Parse()

	logger.InitLogger()

	cm := config.NewConfigManager(
		config.WithConfigPath(*configPath),
		config.WithWatchEnabled(*watch),
	)
	cfg, err := cm.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 命令行参数覆盖配置文件
	if *iterations > 0 {
		cfg.Workloads.Iterations = *iterations
	}
	if *output != "" {
		cfg.Report.Output = *output
	}
	if *format != "" {
		cfg.Report.Format = *format
	}
	if *addr != "" {
		cfg.Dashboard.Addr = *addr
	}

	switch *mode {
	case "demo":
		runDemo(cfg)
	case "profile":
		if err := runProfile(cfg, *archiveFlag); err != nil {
			log.Fatalf("剖析失败: %v", err)
		}
	case "dashboard":
		if err := runDashboard(cfg); err != nil {
			log.Fatalf("仪表板失败: %v", err)
		}
	default:
		fmt.Printf("未知模式: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runDemo 运行演示模式
func runDemo(cfg *config.ProfilerConfig) {
	fmt.Println("🚀 GoLineProfiler - 逐行执行计时器")
	fmt.Println("==================================")
	fmt.Println()

	fmt.Println("📋 项目特性:")
	fmt.Println("  ✅ 显式探针的逐行命中/耗时统计")
	fmt.Println("  ✅ 已注册被调函数独占耗时，不透明调用回退到调用行")
	fmt.Println("  ✅ line_profiler风格文本报告 + JSON导出")
	fmt.Println("  ✅ 热点行/支配调用/紧密循环分析")
	fmt.Println("  ✅ 会话归档(内存/Badger/PostgreSQL)与仪表板")
	fmt.Println()

	// 演示用缩短的延迟跑一轮
	demo := *cfg
	demo.Workloads.Iterations = 30
	demo.Workloads.BadCallDelay = 50 * time.Millisecond
	demo.Workloads.WorseCallDelay = 100 * time.Millisecond
	demo.Report.Output = ""

	if err := runProfile(&demo, false); err != nil {
		log.Printf("演示运行失败: %v", err)
	}
}

// runProfile 在观测下执行示例工作负载并输出报告
func runProfile(cfg *config.ProfilerConfig, archiveSession bool) error {
	timer := lineprof.NewLineTimer()
	workloads := testutil.NewWorkloads(timer,
		testutil.WithDelays(cfg.Workloads.BadCallDelay, cfg.Workloads.WorseCallDelay))

	if err := workloads.RegisterAll(); err != nil {
		return fmt.Errorf("注册目标失败: %w", err)
	}

	log.Printf("🎯 开始观测: Sumulate(%d)", cfg.Workloads.Iterations)
	session, err := timer.RunSession(func() error {
		workloads.Sumulate(cfg.Workloads.Iterations)
		return nil
	})
	if err != nil {
		if !errors.Is(err, lineprof.ErrNoTargetHit) {
			return err
		}
		log.Printf("⚠️  %v，输出空报告", err)
	}

	unit := report.ParseUnit(cfg.Report.Unit)
	rep := report.Build(session, unit)

	if err := emitReport(cfg, rep); err != nil {
		return err
	}

	printFindings(cfg, rep)

	if archiveSession {
		if err := archiveReport(cfg, rep); err != nil {
			return err
		}
	}
	return nil
}

// emitReport 按配置渲染报告
func emitReport(cfg *config.ProfilerConfig, rep *report.Report) error {
	switch cfg.Report.Format {
	case "json":
		if cfg.Report.Output != "" {
			return report.WriteJSONToFile(cfg.Report.Output, rep)
		}
		data, err := rep.ExportJSON()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	default:
		if cfg.Report.Output != "" {
			return report.RenderToFile(cfg.Report.Output, rep)
		}
		return report.Render(os.Stdout, rep)
	}
}

// printFindings 输出分析发现
func printFindings(cfg *config.ProfilerConfig, rep *report.Report) {
	a := analyzer.New(analyzer.Thresholds{
		HotLinePercent:      cfg.Analyzer.HotLinePercent,
		DominantCallPercent: cfg.Analyzer.DominantCallPercent,
		TightLoopHits:       cfg.Analyzer.TightLoopHits,
		TightLoopPerHit:     cfg.Analyzer.TightLoopPerHit,
	})

	findings := a.Analyze(rep)
	if len(findings) == 0 {
		fmt.Println("\n🔍 分析: 没有超过阈值的发现")
		return
	}

	fmt.Printf("\n🔍 分析: %d 条发现\n", len(findings))
	for _, f := range findings {
		fmt.Printf("  [%s] %s\n      %s\n      💡 %s\n",
			f.Severity, f.Title, f.Description, f.Suggestion)
	}
}

// archiveReport 把报告写入配置的归档后端
func archiveReport(cfg *config.ProfilerConfig, rep *report.Report) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Put(ctx, archive.NewRecord(rep)); err != nil {
		return fmt.Errorf("归档会话失败: %w", err)
	}
	log.Printf("📦 会话已归档: %s (后端: %s)", rep.SessionID, cfg.Archive.Backend)
	return nil
}

// openStore 按配置打开归档后端
func openStore(ctx context.Context, cfg *config.ProfilerConfig) (archive.Store, error) {
	switch cfg.Archive.Backend {
	case "badger":
		return archive.NewBadgerStore(cfg.Archive.Badger.Dir)
	case "postgres":
		return archive.NewPostgresStore(ctx, archive.PostgresConfig{
			DSN:            cfg.Archive.Postgres.DSN(),
			MaxConns:       cfg.Archive.Postgres.MaxConns,
			MinConns:       cfg.Archive.Postgres.MinConns,
			ConnectTimeout: cfg.Archive.Postgres.ConnectTimeout,
		})
	default:
		return archive.NewMemoryStore(), nil
	}
}

// runDashboard 启动仪表板直到收到退出信号
func runDashboard(cfg *config.ProfilerConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := dashboard.DefaultOptions(cfg.Dashboard.Addr)
	opts.AllowedOrigins = cfg.Dashboard.AllowedOrigins
	opts.ReadTimeout = cfg.Dashboard.ReadTimeout
	opts.WriteTimeout = cfg.Dashboard.WriteTimeout

	d := dashboard.New(store, opts)
	if err := d.Start(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("🧹 正在停机...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return d.Shutdown(shutdownCtx)
}
