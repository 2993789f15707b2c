// Package logger 提供进程级的结构化日志与审计日志。
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config 描述应用日志的输出方式。
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig 控制审计日志的输出与滚动。
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ErrAlreadyInitialised 表示 Init 被重复调用。
var ErrAlreadyInitialised = errors.New("logger already initialised")

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
	auditLogger   *slog.Logger
	closers       []io.Closer
	initialised   bool
)

// Init 根据配置初始化全局日志实例，只能成功调用一次。
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if initialised {
		return ErrAlreadyInitialised
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}
	handler, opened, err := buildHandler(cfg.Format, cfg.OutputPaths, opts)
	if err != nil {
		closeAll(opened)
		return err
	}
	base := slog.New(handler)
	audit := base
	if cfg.Audit.Enabled {
		writer, err := buildAuditWriter(cfg.Audit)
		if err != nil {
			closeAll(opened)
			return err
		}
		opened = append(opened, writer)
		audit = slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})).
			With(slog.String("stream", "audit"))
	}

	defaultLogger, auditLogger = base, audit
	closers = opened
	initialised = true
	return nil
}

// Discard 把所有日志输出丢弃，常用于测试与命令行静默模式。
func Discard() {
	mu.Lock()
	defer mu.Unlock()
	closeAll(closers)
	closers = nil
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	defaultLogger, auditLogger = discard, discard
	initialised = true
}

// SetOutput 把日志与审计日志重定向到 w，返回恢复前状态的函数。
func SetOutput(w io.Writer, level slog.Level) (restore func()) {
	mu.Lock()
	prevDefault, prevAudit, prevInit := defaultLogger, auditLogger, initialised
	l := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	defaultLogger, auditLogger = l, l.With(slog.String("stream", "audit"))
	initialised = true
	mu.Unlock()

	return func() {
		mu.Lock()
		defaultLogger, auditLogger, initialised = prevDefault, prevAudit, prevInit
		mu.Unlock()
	}
}

func buildHandler(format string, outputs []string, opts *slog.HandlerOptions) (slog.Handler, []io.Closer, error) {
	var opened []io.Closer
	writers := make([]io.Writer, 0, len(outputs))
	for _, out := range outputs {
		out = strings.TrimSpace(out)
		if out == "" {
			continue
		}
		writer, closer, err := openWriter(out)
		if err != nil {
			return nil, opened, err
		}
		if closer != nil {
			opened = append(opened, closer)
		}
		writers = append(writers, writer)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stdout
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(writer, opts), opened, nil
	}
	return slog.NewJSONHandler(writer, opts), opened, nil
}

func buildAuditWriter(cfg AuditConfig) (*rotatingWriter, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("启用审计日志时必须配置 path")
	}
	return newRotatingWriter(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
}

func openWriter(path string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(path) {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("打开日志文件 %s 失败: %w", path, err)
	}
	return file, file, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func closeAll(list []io.Closer) error {
	var err error
	for _, c := range list {
		err = errors.Join(err, c.Close())
	}
	return err
}

// L 返回全局结构化日志实例；未初始化时使用默认配置输出到标准输出。
func L() *slog.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l != nil {
		return l
	}
	_ = Init(Config{})
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// Audit 返回审计日志实例，未启用审计输出时退化为普通日志。
func Audit() *slog.Logger {
	mu.RLock()
	l := auditLogger
	mu.RUnlock()
	if l == nil {
		return L()
	}
	return l
}

// Sync 关闭并刷新所有文件输出。
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	err := closeAll(closers)
	closers = nil
	return err
}

// Named 返回带 component 字段的子日志。
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}
