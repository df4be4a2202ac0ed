package entity

// ConnectionState is the health of one transport of one subscription.
type ConnectionState string

const (
	ConnectionConnecting ConnectionState = "connecting"
	ConnectionOpen       ConnectionState = "open"
	ConnectionDegraded   ConnectionState = "degraded"
	ConnectionClosed     ConnectionState = "closed"
)

// SupervisorState is the combined state of a subscription.
type SupervisorState string

const (
	StateInit        SupervisorState = "init"
	StateConnecting  SupervisorState = "connecting"
	StateSubscribed  SupervisorState = "subscribed"
	StatePollingOnly SupervisorState = "polling_only"
	StateClosed      SupervisorState = "closed"
)

type PollState string

const (
	PollActive   PollState = "active"
	PollInactive PollState = "inactive"
)
