// Package events is the registry of realtime events exchanged between
// collaborating clients.
//
// Each event name is bound to exactly one payload struct, and the set is
// closed: [Event] can only be implemented inside this package, so a
// dispatcher can type-switch over every case.
//
// Mutation payloads ([Mutation]) carry the userId of the originating user so a
// receiver can recognise, and drop, the echo of its own write. Notification
// payloads are pushed by the server and carry no originator.
//
// Adding an event means adding a name, a payload type and a registry entry
// here, one handler in the session dispatch table, and one store method.
package events
