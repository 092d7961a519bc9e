package session

import (
	"sync"
	"time"
)

// callResult is what a pending request's channel eventually carries: either
// the matched JSON-RPC response or the reason the session gave up.
type callResult struct {
	Response *Response
	Err      error
}

// pendingRequest tracks an outgoing request waiting for a response.
type pendingRequest struct {
	// ID is the JSON-RPC integer id of the request.
	ID int64

	// SentAt is when the request was sent.
	SentAt time.Time

	// ResultChan receives exactly one result.
	ResultChan chan callResult
}

// requestTracker manages pending requests and matches responses by id.
//
// Ids are locally unique, monotonically increasing integers. The tracker
// imposes no timeout of its own: request deadlines are the caller's
// responsibility (via context), a deliberate layer boundary. What the
// tracker does guarantee is that no future is left dangling when the
// session closes - FailAll resolves everything with the close reason.
type requestTracker struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingRequest
	failed  error

	// Stats
	totalRequests      int
	matchedResponses   int
	unmatchedResponses int
}

// newRequestTracker creates an empty tracker; ids start at 1.
func newRequestTracker() *requestTracker {
	return &requestTracker{
		nextID:  1,
		pending: make(map[int64]*pendingRequest),
	}
}

// Register claims the next request id and returns its result channel.
//
// Returns an error result channel immediately if the tracker has already
// been failed (session closed between state check and registration).
func (rt *requestTracker) Register() (int64, <-chan callResult) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	id := rt.nextID
	rt.nextID++

	ch := make(chan callResult, 1)
	if rt.failed != nil {
		ch <- callResult{Err: rt.failed}
		return id, ch
	}

	rt.pending[id] = &pendingRequest{
		ID:         id,
		SentAt:     time.Now(),
		ResultChan: ch,
	}
	rt.totalRequests++
	return id, ch
}

// Resolve matches a response to its pending request.
//
// Returns false for unmatched ids - an already-resolved request or a stray
// wallet-initiated message - which the session silently drops by design.
func (rt *requestTracker) Resolve(resp *Response) bool {
	if resp.ID == nil {
		return false
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	req, ok := rt.pending[*resp.ID]
	if !ok {
		rt.unmatchedResponses++
		return false
	}

	delete(rt.pending, *resp.ID)
	rt.matchedResponses++
	req.ResultChan <- callResult{Response: resp}
	return true
}

// Cancel removes a request that was registered but never made it onto the
// wire (send failure). The caller already has the error in hand.
func (rt *requestTracker) Cancel(id int64) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.pending, id)
}

// FailAll resolves every pending request with err and makes all future
// registrations fail immediately. Idempotent; the first reason wins.
func (rt *requestTracker) FailAll(err error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.failed == nil {
		rt.failed = err
	}
	for id, req := range rt.pending {
		delete(rt.pending, id)
		req.ResultChan <- callResult{Err: rt.failed}
	}
}

// TrackerStats is a snapshot of request accounting.
type TrackerStats struct {
	Pending            int `json:"pending"`
	TotalRequests      int `json:"total_requests"`
	MatchedResponses   int `json:"matched_responses"`
	UnmatchedResponses int `json:"unmatched_responses"`
}

// Stats returns current request statistics.
func (rt *requestTracker) Stats() TrackerStats {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	return TrackerStats{
		Pending:            len(rt.pending),
		TotalRequests:      rt.totalRequests,
		MatchedResponses:   rt.matchedResponses,
		UnmatchedResponses: rt.unmatchedResponses,
	}
}
