// Package testing provides test utilities for quizflow.
//
// It follows Go's convention of shipping test helpers in a dedicated package
// (similar to net/http/httptest).
//
// Key utilities:
//   - StartEmbeddedNATS: single in-process NATS server with JetStream
//   - CreateJetStreamKV: memory-backed KV bucket for store tests
//   - RecordingPublisher: types.Publisher fake that captures published events
//   - NewTestLogger: types.Logger writing key=value lines to the test output
//
// Example usage:
//
//	import qftest "github.com/arloliu/quizflow/testing"
//
//	func TestQuizSaga(t *testing.T) {
//	    _, nc := qftest.StartEmbeddedNATS(t)
//	    pub := qftest.NewRecordingPublisher()
//	    // ...
//	}
package testing
