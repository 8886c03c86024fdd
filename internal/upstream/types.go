package upstream

// MaxQueryLength bounds the query text accepted from clients.
// Anything longer is rejected before hashing or dispatch.
const MaxQueryLength = 60000

// QueryRequest is the client-facing request body, forwarded to the
// upstream as-is after the pagination clamp. OperationName passes
// through but is not part of the cache key.
type QueryRequest struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// Outcome is the immutable result of one upstream attempt, shared by
// reference among every coalesced waiter. Success means HTTP 2xx.
type Outcome struct {
	Status      int
	ContentType string
	Body        []byte
	Success     bool
}
