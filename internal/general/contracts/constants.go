package contracts

// Exchanges
const (
	ExchangeLocationFanout = "location_fanout"
)

// Queues
const (
	// QueueLocationHistory feeds the history/retention consumer on the
	// CRUD side of the application.
	QueueLocationHistory = "location_history"
)
