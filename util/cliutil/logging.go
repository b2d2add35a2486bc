package cliutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type LogOptions struct {
	// info|debug|warn|error
	LogLevel string

	// text|json
	LogFormat string

	// path to write to ("" or "-" for stdout); if rotating, %T gets UnixMilli at file open time
	LogPath string

	// e.g. 1_000_000_000; 0 disables rotation
	LogRotateBytes int64

	// keep N old logs (not including current); <0 disables removal
	KeepOld int
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level: %#v", s)
}

// SetupSlog integrates passed in options and env vars, and installs the result as the default logger.
//
// passing default cliutil.LogOptions{} is ok.
//
// SENTINEL_LOG_LEVEL=info|debug|warn|error
//
// SENTINEL_LOG_FMT=text|json
//
// SENTINEL_LOG_FILE=path (or "-" or "" for stdout), %T gets UnixMilli
//
// SENTINEL_LOG_ROTATE_BYTES=int maximum size of log chunk before rotating
//
// SENTINEL_LOG_ROTATE_KEEP=int keep N old logs (not including current), default 2
func SetupSlog(options LogOptions) (*slog.Logger, error) {
	if options.LogLevel == "" {
		options.LogLevel = os.Getenv("SENTINEL_LOG_LEVEL")
	}
	level, err := ParseLevel(options.LogLevel)
	if err != nil {
		return nil, err
	}

	if options.LogFormat == "" {
		options.LogFormat = os.Getenv("SENTINEL_LOG_FMT")
	}
	options.LogFormat = strings.ToLower(options.LogFormat)
	if options.LogFormat == "" {
		options.LogFormat = "text"
	}
	if options.LogFormat != "text" && options.LogFormat != "json" {
		return nil, fmt.Errorf("invalid log format: %#v", options.LogFormat)
	}

	if options.LogPath == "" {
		options.LogPath = os.Getenv("SENTINEL_LOG_FILE")
	}
	if options.LogRotateBytes == 0 {
		if s := os.Getenv("SENTINEL_LOG_ROTATE_BYTES"); s != "" {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid SENTINEL_LOG_ROTATE_BYTES value: %w", err)
			}
			options.LogRotateBytes = n
		}
	}
	if options.KeepOld == 0 {
		options.KeepOld = 2
		if s := os.Getenv("SENTINEL_LOG_ROTATE_KEEP"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("invalid SENTINEL_LOG_ROTATE_KEEP value: %w", err)
			}
			options.KeepOld = n
		}
	}

	var out io.Writer
	switch {
	case options.LogPath == "" || options.LogPath == "-":
		out = os.Stdout
	case options.LogRotateBytes > 0:
		out = &rotateWriter{
			pathTemplate: options.LogPath,
			rotateBytes:  options.LogRotateBytes,
			keep:         options.KeepOld,
		}
	default:
		f, err := os.OpenFile(options.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", options.LogPath, err)
		}
		out = f
	}

	hopts := slog.HandlerOptions{Level: level, AddSource: true}
	var handler slog.Handler
	if options.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, &hopts)
	} else {
		handler = slog.NewTextHandler(out, &hopts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

// Size-rotated log files. A new file is opened (named from the template, with %T replaced by the open time) once the current one would exceed rotateBytes.
type rotateWriter struct {
	mu           sync.Mutex
	pathTemplate string
	rotateBytes  int64
	keep         int

	current     *os.File
	currentPath string
	written     int64
}

func (w *rotateWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current != nil && w.written+int64(len(p)) > w.rotateBytes {
		if err := w.current.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "closing log file %s: %v\n", w.currentPath, err)
		}
		w.current = nil
	}
	if w.current == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	n, err := w.current.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *rotateWriter) open() error {
	path := strings.ReplaceAll(w.pathTemplate, "%T", strconv.FormatInt(time.Now().UnixMilli(), 10))
	if _, err := os.Stat(path); err == nil {
		// template without %T, or two opens in the same millisecond
		path = fmt.Sprintf("%s.%d", path, time.Now().UnixNano())
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w.current = f
	w.currentPath = path
	w.written = 0
	w.cleanOld()
	return nil
}

// removes the oldest rotated files beyond the keep limit. can't log from here, so failures go to stderr.
func (w *rotateWriter) cleanOld() {
	if w.keep < 0 {
		return
	}
	dir, name := filepath.Split(w.pathTemplate)
	prefix, _, _ := strings.Cut(name, "%T")
	if dir == "" {
		dir = "."
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listing old logs: %v\n", err)
		return
	}
	type old struct {
		path string
		mod  time.Time
	}
	var found []old
	for _, ent := range ents {
		full := filepath.Join(dir, ent.Name())
		if !strings.HasPrefix(ent.Name(), prefix) || filepath.Clean(full) == filepath.Clean(w.currentPath) {
			continue
		}
		fi, err := ent.Info()
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		found = append(found, old{path: full, mod: fi.ModTime()})
	}
	if len(found) <= w.keep {
		return
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mod.Before(found[j].mod) })
	for _, o := range found[:len(found)-w.keep] {
		if err := os.Remove(o.path); err != nil {
			fmt.Fprintf(os.Stderr, "removing old log: %v\n", err)
		}
	}
}
