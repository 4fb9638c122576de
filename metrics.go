package oauth

// Metrics receives flow outcomes. Implementations must be safe for concurrent use.
type Metrics interface {
	FlowStarted()
	FlowCompleted()
	FlowFailed(stage string)
	TokenRefreshed(ok bool)
}

type nopMetrics struct{}

func (nopMetrics) FlowStarted()        {}
func (nopMetrics) FlowCompleted()      {}
func (nopMetrics) FlowFailed(string)   {}
func (nopMetrics) TokenRefreshed(bool) {}
