// Package subscription consumes quizflow events from JetStream.
//
// A Listener binds one durable pull consumer to one (subject, queue group) pair.
// All instances of a service share the durable and compete for messages; each
// queue group gets its own durable and therefore its own copy of every event.
//
// Every delivery is decoded, handed to an EventHandler, and acknowledged only
// after the handler returns:
//
//   - nil: Ack
//   - permanent error (types.IsPermanent): logged, then Ack so the message is dropped
//   - any other error: NakWithDelay with jittered backoff, redelivered later
package subscription
