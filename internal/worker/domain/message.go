package domain

import (
	"github.com/cuongbtq/vidgen/shared/events"
	amqp "github.com/rabbitmq/amqp091-go"
)

// EventMessage is a decoded lifecycle event paired with the delivery that
// must be settled once it is archived
type EventMessage struct {
	Event    *events.JobEvent
	Delivery amqp.Delivery
}
