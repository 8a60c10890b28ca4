package app

// Config configures one Load call: the application's queue sizing,
// optional scheduling request, and free-form parameters passed through
// to the plugin.
type Config struct {
	Name      string
	QueueSize int

	// SchedPriority, when > 0 and DeadlineUS == 0, requests SCHED_FIFO.
	SchedPriority int
	// DeadlineUS > 0 requests SCHED_DEADLINE with the triple below,
	// taking priority over SchedPriority.
	DeadlineUS int64
	RuntimeUS  int64
	PeriodUS   int64

	Params map[string]string
}
