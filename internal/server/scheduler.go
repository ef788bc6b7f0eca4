package server

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/caravanhq/caravan/internal/approval"
	"github.com/caravanhq/caravan/internal/notify"
	"github.com/caravanhq/caravan/internal/store"
	"github.com/caravanhq/caravan/models"
)

// Scheduler periodically nudges participants who have not replied to a plan
// email. A redis lock keeps multiple replicas from double-sending.
type Scheduler struct {
	Store    *store.Store
	Channel  notify.Channel
	Tokens   notify.TokenStore
	Rdb      *redis.Client
	Stop     chan struct{}
	CronSpec string
	Logger   *log.Logger
}

func (s *Scheduler) Start() {
	ticker := time.NewTicker(15 * time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	sessions, err := s.Store.ListSessionsByStatus(ctx, models.SessionStatusPendingApproval)
	if err != nil {
		s.Logger.Printf("reminder sweep failed: %v", err)
		return
	}
	for _, rec := range sessions {
		if !reminderDue(s.CronSpec, rec.UpdatedAt) {
			continue
		}
		// distributed lock to avoid duplicate reminders
		if s.Rdb != nil {
			lockKey := "remind:lock:" + rec.ID
			ok, _ := s.Rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
			if !ok {
				continue
			}
		}
		s.remind(ctx, rec)
	}
}

// remind emails every participant who has not recorded a decision yet.
func (s *Scheduler) remind(ctx context.Context, rec store.SessionRecord) {
	decisions := map[string]approval.Decision{}
	if len(rec.ApprovalState) > 0 {
		if err := json.Unmarshal(rec.ApprovalState, &decisions); err != nil {
			s.Logger.Printf("session %s has unreadable approval state: %v", rec.ID, err)
			return
		}
	}
	var pending []string
	for _, pid := range rec.ParticipantIDs {
		if _, done := decisions[pid]; !done {
			pending = append(pending, pid)
		}
	}
	if len(pending) == 0 {
		return
	}
	participants, err := s.Store.ListParticipants(ctx, pending)
	if err != nil {
		s.Logger.Printf("reminder lookup for session %s failed: %v", rec.ID, err)
		return
	}
	var plan models.TravelPlan
	if err := json.Unmarshal(rec.Plan, &plan); err != nil {
		s.Logger.Printf("session %s has unreadable plan: %v", rec.ID, err)
		return
	}
	tokens, err := s.Channel.Distribute(ctx, plan, participants)
	if err != nil {
		s.Logger.Printf("reminder send for session %s failed: %v", rec.ID, err)
		return
	}
	for pid, token := range tokens {
		if err := s.Tokens.Save(ctx, token, notify.TokenBinding{SessionID: rec.ID, ParticipantID: pid}); err != nil {
			s.Logger.Printf("failed to save reminder token for %s: %v", pid, err)
		}
	}
	remindersSent.Add(float64(len(participants)))
	s.Logger.Printf("sent %d approval reminders for session %s", len(participants), rec.ID)
}

// reminderDue evaluates the configured cadence against the session's last
// update. Supports "@daily", "@hourly", and 5-field cron expressions.
func reminderDue(cronSpec string, last time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		return now.Sub(last) >= 24*time.Hour
	case "@hourly":
		return now.Sub(last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			return now.Sub(last) >= 24*time.Hour
		}
		next := expr.Next(last)
		return !next.After(now)
	}
}
