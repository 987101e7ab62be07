package mediator

// Message is the common contract of every dispatchable value. MessageName
// must be stable and unique across the process: it is the routing key the
// registry resolves handlers by, and the name recorded in logs and traces.
//
// Message types are declared as plain structs with a value receiver on
// MessageName, so registration can derive the routing key from the zero
// value without reflection.
type Message interface {
	MessageName() string
}

// Command is an immutable intent to change state. A command resolves to
// exactly one handler and produces no value; success or failure is signaled
// only through the returned error. Commands that also produce a result use
// CommandWithResultHandler and DispatchCommandWithResult.
type Command interface {
	Message
}

// Query is an immutable read intent. A query resolves to exactly one
// handler, never mutates state, and always produces a typed response.
type Query interface {
	Message
}

// Notification is a fact that something already happened. Zero, one, or
// many handlers may react; a handler failure never undoes the committed
// operation that triggered the notification.
type Notification interface {
	Message
}

// Response is the marker contract satisfied by any command or query result
// type. It carries no required fields.
type Response interface{}
