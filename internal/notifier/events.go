package notifier

import (
	"fmt"
	"strings"

	"sipcore/internal/eventbus"
	"sipcore/internal/scheduler"
	logx "sipcore/pkg/logx"
)

// DefaultEvents are forwarded when Config.Events is empty.
var DefaultEvents = []string{
	eventbus.TransactionFailed,
	eventbus.PlanCompleted,
	eventbus.JobFailed,
	eventbus.LogAlert,
}

// FromEvent renders a bus event. ok is false for events with nothing to say.
func FromEvent(e eventbus.Event) (n Notification, ok bool) {
	n = Notification{Type: e.Type, Time: e.Time, Data: e.Data}
	switch d := e.Data.(type) {
	case eventbus.TransactionEvent:
		n.Priority = 7
		n.Text = fmt.Sprintf("contribution failed: plan %s on %s: %s", d.PlanID, d.Date, d.Error)
	case eventbus.PlanEvent:
		n.Priority = 5
		n.Text = fmt.Sprintf("plan %s (%s) completed: %s", d.PlanID, d.Symbol, d.Reason)
	case scheduler.RunReport:
		if d.OK() {
			return Notification{}, false
		}
		n.Priority = 8
		n.Text = fmt.Sprintf("%s job failed (%s): %s", d.Job, d.Trigger, d.Error)
	case logx.Alert:
		n.Priority = 9
		n.Text = fmt.Sprintf("[%s] %s", strings.ToUpper(d.Level), d.Message)
		if v, ok := d.Fields["comp"].(string); ok && v != "" {
			n.Text = fmt.Sprintf("[%s] %s: %s", strings.ToUpper(d.Level), v, d.Message)
		}
	default:
		if e.Type == "" {
			return Notification{}, false
		}
		n.Priority = 5
		n.Text = e.Type
	}
	return n, true
}

func prefixForPriority(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	case p >= 5:
		return "ℹ️ "
	default:
		return ""
	}
}
