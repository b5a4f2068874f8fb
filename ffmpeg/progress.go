package ffmpeg

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"vtools/queue"
)

// progressWriter consumes the key=value report ffmpeg writes for
// "-progress pipe:1" and turns out_time into whole percentages of total.
// Percentages only increase; 100 is reserved for "progress=end".
type progressWriter struct {
	total  time.Duration
	report queue.ProgressFunc
	last   int
	buf    []byte
}

func newProgressWriter(total time.Duration, report queue.ProgressFunc) *progressWriter {
	return &progressWriter{total: total, report: report}
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.line(string(bytes.TrimSpace(w.buf[:i])))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *progressWriter) line(l string) {
	key, value, ok := strings.Cut(l, "=")
	if !ok {
		return
	}
	switch key {
	// out_time_ms is in microseconds too; older builds only print that one.
	case "out_time_us", "out_time_ms":
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us <= 0 {
			return
		}
		pct := int(time.Duration(us) * time.Microsecond * 100 / w.total)
		w.emit(min(pct, 99))
	case "progress":
		if value == "end" {
			w.emit(100)
		}
	}
}

func (w *progressWriter) emit(pct int) {
	if pct <= w.last {
		return
	}
	w.last = pct
	w.report(pct)
}
