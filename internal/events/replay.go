package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aura-consult/backend/internal/models"
)

var (
	// ErrNoStartEvent means the log does not begin with a start event.
	ErrNoStartEvent = errors.New("event log has no start event")
)

// ReplaySession reconstructs a session's state from its ordered event log.
// Used after a crash to resume billing from the last recorded transition.
func ReplaySession(evs []models.BillingEvent) (*models.TimerSession, error) {
	if len(evs) == 0 {
		return nil, ErrNoStartEvent
	}
	first := evs[0]
	if first.Type != models.EventStart {
		return nil, ErrNoStartEvent
	}
	var start models.StartPayload
	if err := json.Unmarshal(first.Payload, &start); err != nil {
		return nil, fmt.Errorf("decode start payload: %w", err)
	}

	s := &models.TimerSession{
		ID:            first.SessionID,
		ClientID:      start.ClientID,
		OperatorID:    start.OperatorID,
		RatePerMinute: start.RatePerMinute,
		StartTime:     first.Timestamp,
		Status:        models.SessionActive,
		CreatedAt:     first.Timestamp,
		UpdatedAt:     first.Timestamp,
	}

	for _, ev := range evs[1:] {
		switch ev.Type {
		case models.EventPause:
			if s.Status == models.SessionActive {
				t := ev.Timestamp
				s.LastPauseTime = &t
				s.Status = models.SessionPaused
			}
		case models.EventResume:
			if s.Status == models.SessionPaused && s.LastPauseTime != nil {
				s.PausedSeconds += int64(ev.Timestamp.Sub(*s.LastPauseTime).Seconds())
				s.LastPauseTime = nil
				s.Status = models.SessionActive
			}
		case models.EventTick:
			var tick models.TickPayload
			if err := json.Unmarshal(ev.Payload, &tick); err != nil {
				return nil, fmt.Errorf("decode tick payload (seq %d): %w", ev.Seq, err)
			}
			s.DurationSeconds = tick.DurationSeconds
			s.BilledMinutes = tick.BilledMinutes
			s.TotalCost = tick.TotalCost
		case models.EventEnd:
			var end models.EndPayload
			if err := json.Unmarshal(ev.Payload, &end); err != nil {
				return nil, fmt.Errorf("decode end payload (seq %d): %w", ev.Seq, err)
			}
			if s.LastPauseTime != nil {
				s.PausedSeconds += int64(ev.Timestamp.Sub(*s.LastPauseTime).Seconds())
				s.LastPauseTime = nil
			}
			t := ev.Timestamp
			s.EndTime = &t
			s.DurationSeconds = end.DurationSeconds
			s.BilledMinutes = end.BilledMinutes
			s.TotalCost = end.TotalCost
			s.OperatorEarning = end.OperatorEarning
			s.PlatformFee = end.PlatformFee
			s.EndedReason = end.Reason
			if end.Reason.Forced() {
				s.Status = models.SessionCancelled
			} else {
				s.Status = models.SessionCompleted
			}
		}
		s.UpdatedAt = ev.Timestamp
	}
	return s, nil
}
