package main

//
// Logging functionality
//

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
)

// logHandler implements log.Handler. Each line carries the seconds elapsed
// since the handler was created, the level and the message, followed by
// the fields sorted by name (e.g., the connection id).
type logHandler struct {
	// Writer is the underlying writer
	io.Writer

	mu    sync.Mutex
	now   func() time.Time
	start time.Time
}

var _ log.Handler = &logHandler{}

func newLogHandler(w io.Writer) *logHandler {
	return &logHandler{Writer: w, now: time.Now, start: time.Now()}
}

// HandleLog implements log.Handler
func (h *logHandler) HandleLog(e *log.Entry) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%14.6f] <%s> %s", h.now().Sub(h.start).Seconds(), e.Level, e.Message)
	names := e.Fields.Names()
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, " %s=%v", name, e.Fields.Get(name))
	}
	sb.WriteString("\n")
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.Writer, sb.String())
	return err
}
