// Package bus publishes quizflow events to JetStream.
//
// All subjects live on one stream (StreamName) created by EnsureStream. Each
// publish carries a Nats-Msg-Id derived from the event identity, so a producer
// that retries within the stream's duplicate window does not create a second
// message.
package bus
