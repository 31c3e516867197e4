package jobs

// Notifier receives one callback per job state write. The notification hub
// implements it; a no-op implementation is fine for headless use.
type Notifier interface {
	JobUpdated(job *ProcessingJob)
}

// NopNotifier discards all updates.
type NopNotifier struct{}

func (NopNotifier) JobUpdated(*ProcessingJob) {}
