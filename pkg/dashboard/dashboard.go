// Package dashboard 提供归档会话的浏览界面：
// REST API、HTML索引页和推送新会话摘要的WebSocket通道。
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"GoLineProfiler/internal/archive"
	"GoLineProfiler/internal/report"
)

// APIResponse 统一API响应结构
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// SessionSummary 会话列表项
type SessionSummary struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	DurationNs int64     `json:"duration_ns"`
	Functions  int       `json:"functions"`
}

// Options 仪表板选项
type Options struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ListLimit      int
}

// DefaultOptions 默认选项
func DefaultOptions(addr string) Options {
	return Options{
		Addr:           addr,
		AllowedOrigins: []string{"*"},
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		ListLimit:      50,
	}
}

// Dashboard 会话浏览仪表板
type Dashboard struct {
	store    archive.Store
	opts     Options
	router   *mux.Router
	server   *http.Server
	upgrader websocket.Upgrader
	indexTpl *template.Template

	mu      sync.Mutex
	clients map[string]*websocket.Conn
	nextID  int
}

// New 创建仪表板
func New(store archive.Store, opts Options) *Dashboard {
	if opts.ListLimit <= 0 {
		opts.ListLimit = 50
	}

	d := &Dashboard{
		store: store,
		opts:  opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:  make(map[string]*websocket.Conn),
		indexTpl: template.Must(template.New("index").Parse(indexHTML)),
	}

	d.router = mux.NewRouter()
	d.registerRoutes(d.router)
	return d
}

// registerRoutes 注册路由
func (d *Dashboard) registerRoutes(router *mux.Router) {
	router.HandleFunc("/", d.handleIndex).Methods("GET")
	router.HandleFunc("/api/sessions", d.handleListSessions).Methods("GET")
	router.HandleFunc("/api/sessions/{id}", d.handleGetSession).Methods("GET")
	router.HandleFunc("/api/sessions/{id}/report", d.handleGetReportText).Methods("GET")
	router.HandleFunc("/ws", d.handleWebSocket)
}

// Handler 返回带CORS包装的HTTP处理器
func (d *Dashboard) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   d.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(d.router)
}

// Start 启动HTTP服务
func (d *Dashboard) Start() error {
	d.server = &http.Server{
		Addr:         d.opts.Addr,
		Handler:      d.Handler(),
		ReadTimeout:  d.opts.ReadTimeout,
		WriteTimeout: d.opts.WriteTimeout,
	}

	log.Printf("🚀 Dashboard listening on %s", d.opts.Addr)
	go func() {
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Dashboard server error: %v", err)
		}
	}()
	return nil
}

// Shutdown 优雅停机，关闭所有WebSocket连接
func (d *Dashboard) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	for id, conn := range d.clients {
		conn.Close()
		delete(d.clients, id)
	}
	d.mu.Unlock()

	if d.server == nil {
		return nil
	}
	return d.server.Shutdown(ctx)
}

// Publish 归档一条新记录并向所有订阅者推送摘要
func (d *Dashboard) Publish(ctx context.Context, rec *archive.Record) error {
	if err := d.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}

	summary := summarize(rec)
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, conn := range d.clients {
		if err := conn.WriteJSON(summary); err != nil {
			log.Printf("Dropping dashboard client %s: %v", id, err)
			conn.Close()
			delete(d.clients, id)
		}
	}
	return nil
}

// summarize 生成列表摘要
func summarize(rec *archive.Record) SessionSummary {
	summary := SessionSummary{
		ID:         rec.ID,
		StartedAt:  rec.StartedAt,
		DurationNs: rec.Duration.Nanoseconds(),
	}
	if rec.Report != nil {
		summary.Functions = len(rec.Report.Functions)
	}
	return summary
}

// writeJSON 输出统一响应
func writeJSON(w http.ResponseWriter, status int, resp APIResponse) {
	resp.Timestamp = time.Now().Unix()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// handleIndex 渲染索引页
func (d *Dashboard) handleIndex(w http.ResponseWriter, r *http.Request) {
	records, err := d.store.List(r.Context(), d.opts.ListLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	summaries := make([]SessionSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, summarize(rec))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := d.indexTpl.Execute(w, summaries); err != nil {
		log.Printf("Failed to render index: %v", err)
	}
}

// handleListSessions 会话列表API
func (d *Dashboard) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := d.opts.ListLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := d.store.List(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, APIResponse{Success: false, Message: err.Error()})
		return
	}

	summaries := make([]SessionSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, summarize(rec))
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: summaries})
}

// handleGetSession 单个会话的完整报告API
func (d *Dashboard) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := d.store.Get(r.Context(), id)
	if err == archive.ErrNotFound {
		writeJSON(w, http.StatusNotFound, APIResponse{Success: false, Message: "session not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, APIResponse{Success: false, Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: rec})
}

// handleGetReportText 渲染文本报告
func (d *Dashboard) handleGetReportText(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := d.store.Get(r.Context(), id)
	if err == archive.ErrNotFound {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := report.Render(&buf, rec.Report); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(buf.Bytes())
}

// handleWebSocket 订阅新会话摘要
func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	d.mu.Lock()
	d.nextID++
	id := fmt.Sprintf("client_%d", d.nextID)
	d.clients[id] = conn
	d.mu.Unlock()

	log.Printf("📡 Dashboard client connected: %s", id)

	// 读循环只用于感知断开
	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.clients, id)
			d.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// indexHTML 索引页模板
const indexHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>GoLineProfiler Sessions</title></head>
<body>
<h1>Profiling Sessions</h1>
<table border="1" cellpadding="4">
<tr><th>ID</th><th>Started</th><th>Duration (ns)</th><th>Functions</th><th></th></tr>
{{range .}}
<tr>
<td>{{.ID}}</td>
<td>{{.StartedAt}}</td>
<td>{{.DurationNs}}</td>
<td>{{.Functions}}</td>
<td><a href="/api/sessions/{{.ID}}/report">report</a></td>
</tr>
{{end}}
</table>
</body>
</html>`
