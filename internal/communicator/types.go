package communicator

import "time"

// Line is one formatted dash line on its way to a sink. The JSON form is
// what the HTTP sink posts.
type Line struct {
	AgentName     string    `json:"agent_name"`
	Timestamp     time.Time `json:"timestamp"`
	Text          string    `json:"line"`
	LinkState     string    `json:"link_state,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}
