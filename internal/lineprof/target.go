package lineprof

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// Target 被观测的目标函数
type Target struct {
	Name      string `json:"name"`       // runtime完整名称（含包路径）
	ShortName string `json:"short_name"` // 去掉包路径的短名称
	File      string `json:"file"`
	EntryLine int    `json:"entry_line"`
}

// resolveTarget 通过反射和runtime解析函数的身份信息
func resolveTarget(fn interface{}) (*Target, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil", ErrNotAFunction)
	}

	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %s", ErrNotAFunction, v.Kind())
	}

	rf := runtime.FuncForPC(v.Pointer())
	if rf == nil {
		return nil, fmt.Errorf("%w: no runtime info for pc", ErrNotAFunction)
	}

	file, line := rf.FileLine(rf.Entry())

	// 方法值会解析到runtime生成的"-fm"包装器，探针上报的是原方法名
	name := strings.TrimSuffix(rf.Name(), "-fm")

	return &Target{
		Name:      name,
		ShortName: shortFuncName(name),
		File:      file,
		EntryLine: line,
	}, nil
}

// shortFuncName 截取包路径后的函数名
func shortFuncName(full string) string {
	if idx := strings.LastIndex(full, "/"); idx >= 0 {
		full = full[idx+1:]
	}
	if idx := strings.Index(full, "."); idx >= 0 {
		return full[idx+1:]
	}
	return full
}
