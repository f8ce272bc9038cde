package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// rotationPolicy is the resolved, validated form of RotationConfig.
type rotationPolicy struct {
	maxBytes int64
	maxAge   time.Duration
	keep     int
}

func resolvePolicy(cfg *RotationConfig) (rotationPolicy, error) {
	p := rotationPolicy{
		maxBytes: 50 << 20,
		maxAge:   7 * 24 * time.Hour,
		keep:     3,
	}
	if cfg == nil {
		return p, nil
	}
	if cfg.MaxSize != "" {
		n, err := parseByteSize(cfg.MaxSize)
		if err != nil {
			return p, fmt.Errorf("invalid max_size: %w", err)
		}
		p.maxBytes = n
	}
	if cfg.MaxAge != "" {
		age, err := parseAge(cfg.MaxAge)
		if err != nil {
			return p, fmt.Errorf("invalid max_age: %w", err)
		}
		p.maxAge = age
	}
	if cfg.MaxBackups > 0 {
		p.keep = cfg.MaxBackups
	}
	return p, nil
}

// rotatingFile is an io.Writer that appends to a log file and renames it
// aside once a write would push it past the size limit. Backups carry a
// timestamp between the stem and the extension; pruning runs inline after
// each rotation.
type rotatingFile struct {
	path   string
	policy rotationPolicy

	mu   sync.Mutex
	f    *os.File
	size int64
}

func newRotatingWriter(path string, cfg *RotationConfig) (io.Writer, error) {
	policy, err := resolvePolicy(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &rotatingFile{path: path, policy: policy}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.prune()
	return w, nil
}

func (w *rotatingFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	if w.size+int64(len(p)) > w.policy.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func (w *rotatingFile) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.f = f
	w.size = info.Size()
	return nil
}

func (w *rotatingFile) rotate() error {
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}

	ext := filepath.Ext(w.path)
	aside := strings.TrimSuffix(w.path, ext) + "." + time.Now().Format("20060102-150405") + ext
	if err := os.Rename(w.path, aside); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	if err := w.open(); err != nil {
		return err
	}
	w.prune()
	return nil
}

// prune removes backups past the age limit, then the oldest beyond the keep
// count. The active file is never touched.
func (w *rotatingFile) prune() {
	ext := filepath.Ext(w.path)
	matches, err := filepath.Glob(strings.TrimSuffix(w.path, ext) + ".*" + ext)
	if err != nil {
		return
	}

	type backup struct {
		path string
		mod  time.Time
	}
	var backups []backup
	cutoff := time.Now().Add(-w.policy.maxAge)
	for _, match := range matches {
		if match == w.path {
			continue
		}
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(match)
			continue
		}
		backups = append(backups, backup{path: match, mod: info.ModTime()})
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].mod.Before(backups[j].mod) })
	for len(backups) > w.policy.keep {
		_ = os.Remove(backups[0].path)
		backups = backups[1:]
	}
}

var sizeUnits = []struct {
	suffix string
	factor int64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// parseByteSize reads "50MB"-style sizes. A bare number is bytes.
func parseByteSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	factor := int64(1)
	for _, unit := range sizeUnits {
		if strings.HasSuffix(s, unit.suffix) {
			factor = unit.factor
			s = strings.TrimSpace(strings.TrimSuffix(s, unit.suffix))
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return n * factor, nil
}

// parseAge reads "7d" and "2w" ages; anything else goes through Go's own
// duration syntax.
func parseAge(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if rest, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(rest)
		if err == nil {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	if rest, ok := strings.CutSuffix(s, "w"); ok {
		weeks, err := strconv.Atoi(rest)
		if err == nil {
			return time.Duration(weeks) * 7 * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}
