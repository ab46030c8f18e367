// Package notify produces outbound events for the external broadcast layer.
//
// The assignment engine emits exactly one event per successful state
// transition: assigned, transferred, or queued. Delivery is fire-and-forget
// from the engine's perspective - an emit failure is logged by the caller
// and never rolls back the assignment.
//
// Two implementations are provided: Broadcaster fans events out in-process
// to subscribed clients, and AMQPEmitter publishes them to a RabbitMQ topic
// exchange for external consumers. MultiEmitter composes both.
package notify
