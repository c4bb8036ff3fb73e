package mqtt

import "errors"

// Sentinel errors returned by Client. Publish and subscribe failures wrap
// the broker's error; test with errors.Is.
var (
	// ErrNotConnected means the broker link is down. The sync engine keeps
	// its outbox and retries after reconnect.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned by Connect when the first attempt
	// fails or times out.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic rejects empty topics.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
