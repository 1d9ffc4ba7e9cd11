package notify

import "testing"

func TestNoopNotifierDoesNotPanic(t *testing.T) {
	var n Notifier = NoopNotifier{}
	n.NotifyComplete("ses_a", "improve auth", 3, 3)
}

func TestSlackNotifierSwallowsDeliveryErrors(t *testing.T) {
	n := NewSlackNotifier("http://127.0.0.1:0/not-a-real-webhook", nil)
	// The webhook target is unreachable; NotifyComplete must not panic or
	// otherwise propagate the failure, matching the interface's contract.
	n.NotifyComplete("ses_a", "improve auth", 2, 1)
}
