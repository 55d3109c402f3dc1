package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agendamento_bookings_created_total",
		Help: "Appointments successfully booked.",
	})

	BookingConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agendamento_booking_conflicts_total",
		Help: "Booking attempts rejected because the slot was taken.",
	})

	NotificationsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agendamento_notifications_dispatched_total",
		Help: "Notification delivery attempts by outcome.",
	}, []string{"outcome"})
)
