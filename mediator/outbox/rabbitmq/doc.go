// Package rabbitmq provides an outbox delivery target that publishes
// entries to a RabbitMQ exchange.
//
// Entries publish with persistent delivery mode, the entry ID as the
// AMQP message id and the event type as the routing key, so consumers
// can bind queues per event type and deduplicate on message id.
package rabbitmq
