package metrics

import "time"

// TransferMetrics provides observability for the transfer manager.
//
// This interface is optional - pass nil to disable metrics collection with
// zero overhead.
type TransferMetrics interface {
	// RecordTransferCreated increments the created-transfers counter.
	RecordTransferCreated()

	// RecordTransferFinished records a transfer reaching a terminal status
	// ("completed", "failed" or "cancelled") with its total duration.
	RecordTransferFinished(status string, duration time.Duration)

	// RecordChunkReceived records a verified chunk and its decoded size.
	RecordChunkReceived(bytes int)

	// RecordChunkRetry increments the retried-chunks counter for a reason
	// ("CHECKSUM_FAILED", "ARRIVAL_TIMEOUT", ...).
	RecordChunkRetry(reason string)

	// RecordChunkWrite records the duration of one positional scratch write.
	RecordChunkWrite(duration time.Duration)

	// SetActiveTransfers updates the gauge of non-terminal transfers.
	SetActiveTransfers(count int)
}
