package monitor

import (
	"time"

	"github.com/price-monitor-bot/internal/types"
)

const dateLayout = "2006-01-02"

// Rules are the fixed inputs of the state machine
type Rules struct {
	TargetPrice float64
	Location    *time.Location
	ReportStart time.Duration // offset from local midnight
	ReportEnd   time.Duration // inclusive: the whole ReportEnd minute is inside the window
}

// Decision is the outcome of one evaluation
type Decision struct {
	State         types.MonitorState
	Notifications []types.Notification
	FirstRun      bool
	Reported      bool
}

// Evaluate applies one price observation to the persisted state. It is pure:
// the caller sends the notifications and persists Decision.State.
func Evaluate(state *types.MonitorState, price float64, now time.Time, rules Rules) Decision {
	local := now.In(rules.location())
	today := local.Format(dateLayout)

	if !state.Initialized() {
		return Decision{
			State: types.MonitorState{
				FirstRun:       true,
				DailyMin:       price,
				LastReportDate: today,
			},
			Notifications: []types.Notification{
				{Kind: types.NotifyStarted, Price: price, Threshold: rules.TargetPrice},
			},
			FirstRun: true,
		}
	}

	next := *state
	if price < next.DailyMin {
		next.DailyMin = price
	}

	var notifications []types.Notification

	if price < rules.TargetPrice {
		notifications = append(notifications, types.Notification{
			Kind:      types.NotifyBelowThreshold,
			Price:     price,
			Threshold: rules.TargetPrice,
		})
	}

	reported := false
	// ISO dates compare lexically; a stored date ahead of today never moves back
	if rules.inReportWindow(local) && next.LastReportDate < today {
		notifications = append(notifications, types.Notification{
			Kind:       types.NotifyDailyReport,
			Price:      price,
			Threshold:  rules.TargetPrice,
			ReportDate: next.LastReportDate,
			DailyMin:   next.DailyMin,
		})
		next.DailyMin = price
		next.LastReportDate = today
		reported = true
	}

	return Decision{
		State:         next,
		Notifications: notifications,
		Reported:      reported,
	}
}

func (r Rules) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

func (r Rules) inReportWindow(local time.Time) bool {
	sinceMidnight := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second

	return sinceMidnight >= r.ReportStart && sinceMidnight < r.ReportEnd+time.Minute
}
