// leveled logging front over logrus with an optional async file writer
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// maxLines per log file before rolling to a numbered sibling
const maxLines = 50000

type Options struct {
	Enabled  bool
	Level    int // 0 debug, 1 info, 2 warn, 3 error
	Dir      string
	QueueCap int // > 0 switches the file writer to async mode
}

type Logger struct {
	*logrus.Logger
	w *asyncWriter
}

func levelOf(n int) logrus.Level {
	switch n {
	case 0:
		return logrus.DebugLevel
	case 1:
		return logrus.InfoLevel
	case 2:
		return logrus.WarnLevel
	default:
		return logrus.ErrorLevel
	}
}

func New(o Options) (*Logger, error) {
	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	base.SetLevel(levelOf(o.Level))

	l := &Logger{Logger: base}
	if !o.Enabled {
		base.SetOutput(io.Discard)
		return l, nil
	}
	if o.Dir == "" {
		base.SetOutput(os.Stdout)
		return l, nil
	}

	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return nil, err
	}
	w := &asyncWriter{dir: o.Dir}
	if err := w.roll(time.Now()); err != nil {
		return nil, err
	}
	if o.QueueCap > 0 {
		w.queue = make(chan []byte, o.QueueCap)
		w.done = make(chan struct{})
		go w.drain()
	}
	l.w = w
	base.SetOutput(w)
	return l, nil
}

// Close flushes the async queue and the current file
func (l *Logger) Close() error {
	if l.w == nil {
		return nil
	}
	return l.w.close()
}

// asyncWriter appends lines to a dated file, rolling on date change or
// on the line cap; with a queue set, Write hands lines to one drainer
// goroutine and blocks only when the queue is full
type asyncWriter struct {
	dir   string
	file  *os.File
	day   string
	lines int
	seq   int

	queue chan []byte
	done  chan struct{}
}

func (w *asyncWriter) name(day string) string {
	if w.seq == 0 {
		return filepath.Join(w.dir, day+".log")
	}
	return filepath.Join(w.dir, fmt.Sprintf("%s-%d.log", day, w.seq))
}

func (w *asyncWriter) roll(now time.Time) error {
	day := now.Format("2006_01_02")
	if day != w.day {
		w.day = day
		w.seq = 0
	} else {
		w.seq++
	}
	if w.file != nil {
		w.file.Close()
	}
	f, err := os.OpenFile(w.name(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.lines = 0
	return nil
}

func (w *asyncWriter) emit(line []byte) {
	now := time.Now()
	if now.Format("2006_01_02") != w.day || w.lines >= maxLines {
		if err := w.roll(now); err != nil {
			return
		}
	}
	w.file.Write(line)
	w.lines++
}

func (w *asyncWriter) drain() {
	defer close(w.done)
	flush := time.NewTicker(time.Second)
	defer flush.Stop()
	for {
		select {
		case line, ok := <-w.queue:
			if !ok {
				return
			}
			w.emit(line)
		case <-flush.C:
			w.file.Sync()
		}
	}
}

func (w *asyncWriter) Write(p []byte) (int, error) {
	if w.queue == nil {
		w.emit(p)
		return len(p), nil
	}
	line := make([]byte, len(p))
	copy(line, p)
	w.queue <- line
	return len(p), nil
}

func (w *asyncWriter) close() error {
	if w.queue != nil {
		close(w.queue)
		<-w.done
	}
	return w.file.Close()
}
