package logutil

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	log "github.com/charmbracelet/log"
)

var (
	outputMu  sync.Mutex
	outputTee io.Writer
	sink      = &levelFilterWriter{minLevel: log.InfoLevel}
)

// Configure sets the stderr level and installs charmbracelet/log as both the
// package default and the slog default handler. Lines below the level still
// reach the tee set via SetOutputTee.
func Configure(levelRaw string) error {
	level, err := ParseLevel(levelRaw)
	if err != nil {
		return err
	}
	outputMu.Lock()
	defer outputMu.Unlock()
	sink.setMinLevel(level)
	sink.setOutputs(os.Stderr, outputTee)

	logger := log.NewWithOptions(sink, log.Options{
		ReportTimestamp: true,
		Level:           log.DebugLevel,
	})
	log.SetDefault(logger)
	slog.SetDefault(slog.New(logger))
	return nil
}

func ParseLevel(levelRaw string) (log.Level, error) {
	levelRaw = strings.ToLower(strings.TrimSpace(levelRaw))
	switch levelRaw {
	case "":
		return log.InfoLevel, nil
	case "trace":
		return log.DebugLevel, nil
	}
	level, err := log.ParseLevel(levelRaw)
	if err != nil {
		return 0, fmt.Errorf("invalid loglevel %q", levelRaw)
	}
	return level, nil
}

// SetOutputTee mirrors every log line, regardless of level, to w.
func SetOutputTee(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	outputTee = w
	sink.setOutputs(os.Stderr, w)
}

type levelFilterWriter struct {
	mu       sync.Mutex
	out      io.Writer
	tee      io.Writer
	minLevel log.Level
	buf      []byte
}

func (w *levelFilterWriter) setMinLevel(level log.Level) {
	w.mu.Lock()
	w.minLevel = level
	w.mu.Unlock()
}

func (w *levelFilterWriter) setOutputs(out, tee io.Writer) {
	w.mu.Lock()
	w.out = out
	w.tee = tee
	w.mu.Unlock()
}

func (w *levelFilterWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx < 0 {
			break
		}
		line := append([]byte(nil), w.buf[:idx+1]...)
		w.buf = w.buf[idx+1:]
		if w.tee != nil {
			_, _ = w.tee.Write(line)
		}
		if w.out != nil && lineLevel(string(line)) >= w.minLevel {
			_, _ = w.out.Write(line)
		}
	}
	return len(p), nil
}

// lineLevel recovers the level from a rendered text line. charmbracelet/log
// prints four-letter abbreviations (DEBU, INFO, WARN, ERRO, FATA).
func lineLevel(line string) log.Level {
	fields := strings.Fields(strings.ToUpper(stripANSI(line)))
	for i, f := range fields {
		if i > 2 {
			break
		}
		switch f {
		case "DEBU", "DEBUG":
			return log.DebugLevel
		case "INFO":
			return log.InfoLevel
		case "WARN", "WARNING":
			return log.WarnLevel
		case "ERRO", "ERROR":
			return log.ErrorLevel
		case "FATA", "FATAL":
			return log.FatalLevel
		}
	}
	return log.InfoLevel
}

func stripANSI(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inEsc := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inEsc {
			if (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') {
				inEsc = false
			}
			continue
		}
		if ch == 0x1b {
			inEsc = true
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}
