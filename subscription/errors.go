package subscription

import "errors"

// Configuration errors returned by NewListener.
var (
	ErrJetStreamRequired  = errors.New("JetStream context is required")
	ErrStreamNameRequired = errors.New("stream name is required")
	ErrSubjectRequired    = errors.New("subject is required")
	ErrQueueGroupRequired = errors.New("queue group is required")
	ErrHandlerRequired    = errors.New("event handler is required")
	ErrListenerStarted    = errors.New("listener already started")
)
