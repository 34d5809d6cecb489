package queue

import "fmt"

const (
	// SendQueue carries send requests to the gateway workers.
	SendQueue = "sms.send"
	// OutcomeQueue carries per-ticket results back from the gateway.
	OutcomeQueue = "sms.outcomes"
)

// DLQName returns the dead-letter queue for a work queue, e.g. dlq.sms.send.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// QueueNames returns the queues the dispatcher declares.
func QueueNames() []string {
	return []string{SendQueue, OutcomeQueue}
}
