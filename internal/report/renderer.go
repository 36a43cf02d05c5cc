package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Unit 报告使用的时间单位
type Unit time.Duration

const (
	UnitNanosecond  Unit = Unit(time.Nanosecond)
	UnitMicrosecond Unit = Unit(time.Microsecond)
	UnitMillisecond Unit = Unit(time.Millisecond)
	UnitSecond      Unit = Unit(time.Second)
)

// ParseUnit 解析配置中的单位名称，未知名称回退到微秒
func ParseUnit(name string) Unit {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ns", "nanosecond", "nanoseconds":
		return UnitNanosecond
	case "ms", "millisecond", "milliseconds":
		return UnitMillisecond
	case "s", "sec", "second", "seconds":
		return UnitSecond
	default:
		return UnitMicrosecond
	}
}

// Label 单位的显示名称
func (u Unit) Label() string {
	switch u {
	case UnitNanosecond:
		return "ns"
	case UnitMillisecond:
		return "ms"
	case UnitSecond:
		return "s"
	default:
		return "µs"
	}
}

// convert 纳秒值换算到报告单位
func (u Unit) convert(ns int64) float64 {
	return float64(ns) / float64(time.Duration(u).Nanoseconds())
}

// Render 把报告写成文本表格。
// 单位在表头声明一次；每个函数一个块，按首次调用顺序；
// 行按行号升序，列为 Line/Hits/Time/Per Hit/% Time。
func Render(w io.Writer, rep *Report) error {
	unit := ParseUnit(rep.Unit)

	if _, err := fmt.Fprintf(w, "Timer unit: 1 %s\n", unit.Label()); err != nil {
		return err
	}
	fmt.Fprintf(w, "Session: %s\n", rep.SessionID)
	fmt.Fprintf(w, "Total duration: %.1f %s\n", unit.convert(rep.DurationNs), unit.Label())
	if rep.EntryErr != "" {
		fmt.Fprintf(w, "Entry error: %s\n", rep.EntryErr)
	}

	if len(rep.Functions) == 0 {
		_, err := fmt.Fprintln(w, "\nNo registered function was hit during this session.")
		return err
	}

	for _, fn := range rep.Functions {
		fmt.Fprintf(w, "\nFunction: %s (%s:%d)\n", fn.ShortName, fn.File, fn.EntryLine)
		fmt.Fprintf(w, "Calls: %d    Total time: %.1f %s\n", fn.Calls, unit.convert(fn.TotalTimeNs), unit.Label())

		tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "Line\tHits\tTime\tPer Hit\t% Time\t")
		fmt.Fprintln(tw, "----\t----\t----\t-------\t------\t")
		for _, row := range fn.Rows {
			fmt.Fprintf(tw, "%d\t%d\t%.1f\t%.1f\t%.2f\t\n",
				row.Line, row.Hits,
				unit.convert(row.TotalTimeNs),
				unit.convert(row.PerHitNs),
				row.PercentTime)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	return nil
}

// RenderToFile 把报告写入文件
func RenderToFile(path string, rep *Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	if err := Render(f, rep); err != nil {
		return err
	}
	return f.Sync()
}

// WriteJSONToFile 把报告的JSON编码写入文件
func WriteJSONToFile(path string, rep *Report) error {
	data, err := rep.ExportJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}
