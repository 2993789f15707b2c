package ethereum

import (
	"sync"
	"sync/atomic"

	"SageChain/internal/web3"
)

// RPCError is a wallet-side JSON-RPC error. It satisfies go-ethereum's
// rpc.Error interface so adapters can read the code.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string { return e.Message }

// ErrorCode returns the JSON-RPC error code.
func (e *RPCError) ErrorCode() int { return e.Code }

// Standard EIP-1193 / JSON-RPC codes used by the transports.
const (
	CodeUserRejected   = 4001
	CodeUnauthorized   = 4100
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
)

// listenerSet keeps event listeners keyed by id.
type listenerSet struct {
	next      atomic.Uint64
	mu        sync.RWMutex
	listeners map[string]map[web3.ListenerID]web3.Listener
}

func newListenerSet() *listenerSet {
	return &listenerSet{listeners: make(map[string]map[web3.ListenerID]web3.Listener)}
}

// add registers a listener and reports how many listeners the event has now.
func (s *listenerSet) add(event string, l web3.Listener) (web3.ListenerID, int) {
	id := web3.ListenerID(s.next.Add(1))
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.listeners[event]
	if byID == nil {
		byID = make(map[web3.ListenerID]web3.Listener)
		s.listeners[event] = byID
	}
	byID[id] = l
	return id, len(byID)
}

// remove drops a listener and reports how many listeners remain.
func (s *listenerSet) remove(event string, id web3.ListenerID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.listeners[event]
	delete(byID, id)
	if len(byID) == 0 {
		delete(s.listeners, event)
		return 0
	}
	return len(byID)
}

func (s *listenerSet) count(event string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners[event])
}

// emit invokes every listener of the event with its own copy of the payload.
func (s *listenerSet) emit(event string, accounts []string) {
	s.mu.RLock()
	snapshot := make([]web3.Listener, 0, len(s.listeners[event]))
	for _, l := range s.listeners[event] {
		snapshot = append(snapshot, l)
	}
	s.mu.RUnlock()

	for _, l := range snapshot {
		l(append([]string(nil), accounts...))
	}
}
