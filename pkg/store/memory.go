package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store used in tests and in deployments without a
// configured database. It keeps insertion order.
type Memory struct {
	mu         sync.Mutex
	customers  []Customer
	workOrders []WorkOrder
	leads      []Lead
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) FindCustomerByPhone(_ context.Context, phone string) (*Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.customers {
		if m.customers[i].Phone == phone {
			c := m.customers[i]
			return &c, nil
		}
	}
	return nil, nil
}

func (m *Memory) CreateCustomer(_ context.Context, c Customer) (Customer, error) {
	c.CreatedAt = time.Now()
	m.mu.Lock()
	m.customers = append(m.customers, c)
	m.mu.Unlock()
	return c, nil
}

func (m *Memory) CreateWorkOrder(_ context.Context, wo WorkOrder) (WorkOrder, error) {
	wo.CreatedAt = time.Now()
	m.mu.Lock()
	m.workOrders = append(m.workOrders, wo)
	m.mu.Unlock()
	return wo, nil
}

func (m *Memory) CreateLead(_ context.Context, l Lead) (Lead, error) {
	l.CreatedAt = time.Now()
	m.mu.Lock()
	m.leads = append(m.leads, l)
	m.mu.Unlock()
	return l, nil
}

// Snapshot copies the current rows, for assertions.
func (m *Memory) Snapshot() ([]Customer, []WorkOrder, []Lead) {
	m.mu.Lock()
	defer m.mu.Unlock()
	customers := append([]Customer(nil), m.customers...)
	workOrders := append([]WorkOrder(nil), m.workOrders...)
	leads := append([]Lead(nil), m.leads...)
	return customers, workOrders, leads
}
