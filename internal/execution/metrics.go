package execution

import "time"

// Recorder receives execution metrics.
type Recorder interface {
	NodeTransition(network, kind string, status Status)
	TransactionSent(network, kind string)
	RunFinished(network string, succeeded bool, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) NodeTransition(string, string, Status)   {}
func (nopRecorder) TransactionSent(string, string)          {}
func (nopRecorder) RunFinished(string, bool, time.Duration) {}
