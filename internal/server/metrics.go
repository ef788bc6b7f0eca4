package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	roundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caravan_negotiation_rounds_total",
		Help: "Completed negotiation rounds, including ones that failed synthesis.",
	})
	planFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caravan_plan_failures_total",
		Help: "Synthesis outcomes that did not produce a valid plan, by kind.",
	}, []string{"kind"})
	plansRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caravan_plans_rejected_total",
		Help: "Plans sent back into negotiation after a participant rejection.",
	})
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caravan_decisions_total",
		Help: "Recorded approval decisions, by verdict and source.",
	}, []string{"verdict", "source"})
	bookingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caravan_bookings_total",
		Help: "Individual booking attempts, by outcome.",
	}, []string{"outcome"})
	remindersSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caravan_reminders_sent_total",
		Help: "Approval reminder emails sent by the scheduler.",
	})
)
