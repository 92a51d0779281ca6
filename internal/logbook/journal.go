package logbook

import (
	"strings"
	"time"

	"github.com/kingrea/gsync/internal/workflow/scheduler"
)

// OnEvent records checkout transitions worth reading later. Discovery and
// start events stay in the structured log.
func (l *Logbook) OnEvent(ev scheduler.Event) {
	switch ev.Kind {
	case scheduler.EventCompleted:
		l.Info("%s synced %s in %s", ev.Node, ev.URL, ev.Duration.Round(time.Millisecond))
	case scheduler.EventFailed:
		l.Error("%s failed: %v", ev.Node, ev.Err)
	case scheduler.EventBlocked:
		l.Warn("%s blocked by %s", ev.Node, strings.Join(ev.BlockedBy, ", "))
	case scheduler.EventCancelled:
		l.Warn("%s cancelled", ev.Node)
	}
}

var _ scheduler.Observer = (*Logbook)(nil)
