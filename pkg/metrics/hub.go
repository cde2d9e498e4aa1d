package metrics

// HubMetrics provides observability for the endpoint hub.
//
// This interface is optional - pass nil to disable metrics collection with
// zero overhead.
type HubMetrics interface {
	// SetConnectedEndpoints updates the gauge of registered endpoints.
	SetConnectedEndpoints(count int)

	// RecordMessageReceived increments the inbound message counter by tag.
	RecordMessageReceived(msgType string)

	// RecordMessageSent increments the outbound message counter by tag.
	RecordMessageSent(msgType string)

	// RecordInvalidMessage increments the rejected-frames counter.
	RecordInvalidMessage()

	// RecordStaleTermination increments the counter of connections closed
	// by the liveness sweep.
	RecordStaleTermination()
}
