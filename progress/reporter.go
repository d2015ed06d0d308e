// Package progress draws dump progress on the secondary screen.
package progress

import (
	"github.com/golang/glog"

	"ntrdump/flashcart"
)

// Screen is a text surface the reporter owns.
type Screen interface {
	Clear()
	Printf(format string, args ...any)
}

// Reporter renders a status line, a byte count and a percentage. Redraws
// are skipped when neither the percentage went up nor the status changed.
type Reporter struct {
	screen    Screen
	threshold flashcart.LogPriority

	lastPercent int64
	lastStatus  string
	redraws     int
}

// NewReporter draws on s. Driver log messages below threshold are dropped.
func NewReporter(s Screen, threshold flashcart.LogPriority) *Reporter {
	return &Reporter{screen: s, threshold: threshold, lastPercent: -1}
}

// Percent is floor(100*current/total), or 0 for an empty total.
func Percent(current, total int64) int64 {
	if total <= 0 {
		return 0
	}
	return 100 * current / total
}

// Report shows how far a transfer has got.
func (r *Reporter) Report(current, total int64, status string) {
	percent := Percent(current, total)
	if percent <= r.lastPercent && status == r.lastStatus {
		return
	}
	r.lastPercent = percent
	r.lastStatus = status
	r.redraws++

	r.screen.Clear()
	r.screen.Printf("%s\n%d/%d\n%d%%\n", status, current, total, percent)
}

// Clear wipes the surface and forgets what was last drawn.
func (r *Reporter) Clear() {
	r.screen.Clear()
	r.lastPercent = -1
	r.lastStatus = ""
}

// Redraws counts how many times the surface was actually redrawn.
func (r *Reporter) Redraws() int {
	return r.redraws
}

// ShowProgress implements flashcart.Platform.
func (r *Reporter) ShowProgress(current, total int64, status string) {
	r.Report(current, total, status)
}

// LogMessage implements flashcart.Platform.
func (r *Reporter) LogMessage(priority flashcart.LogPriority, format string, args ...any) {
	if priority < r.threshold {
		return
	}
	switch priority {
	case flashcart.LogDebug:
		glog.V(2).Infof(format, args...)
	case flashcart.LogInfo, flashcart.LogNotice:
		glog.Infof(format, args...)
	case flashcart.LogWarning:
		glog.Warningf(format, args...)
	default:
		glog.Errorf(format, args...)
	}
}
