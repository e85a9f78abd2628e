package ticket

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ticket is a ticket held by MemoryTicketer.
type Ticket struct {
	ID        string
	Priority  string
	Summary   string
	CreatedAt time.Time
}

// MemoryTicketer keeps tickets in process. It backs local development and
// deployments without an issue tracker.
type MemoryTicketer struct {
	mu      sync.Mutex
	tickets []Ticket
}

// NewMemoryTicketer creates an empty in-memory ticketer.
func NewMemoryTicketer() *MemoryTicketer {
	return &MemoryTicketer{}
}

// CreateTicket records a ticket and returns an ID like "TKT-1A2B3C4D".
func (m *MemoryTicketer) CreateTicket(_ context.Context, priority, summary string) (string, error) {
	id := "TKT-" + strings.ToUpper(uuid.NewString()[:8])

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets = append(m.tickets, Ticket{ID: id, Priority: priority, Summary: summary, CreatedAt: time.Now()})
	return id, nil
}

// Tickets returns a copy of every ticket created so far.
func (m *MemoryTicketer) Tickets() []Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Ticket(nil), m.tickets...)
}
