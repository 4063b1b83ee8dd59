// Package store persists completed intake records. The Gateway owns the
// save orchestration (lookup-or-create customer, then one work order or
// lead row); Store implementations own the rows.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tamiikomi12/hvac-ai-backend/pkg/gateway/intake"
)

// StatusNew is the initial status of every persisted work order and lead.
const StatusNew = "New"

type Customer struct {
	ID        string
	Phone     string
	Name      string
	Address   string
	Type      string
	Source    string
	CreatedAt time.Time
}

type WorkOrder struct {
	ID                   string
	CustomerID           string
	CallType             string
	IssueDescription     string
	SystemType           string
	Priority             string
	Status               string
	Brand                string
	SystemAge            string
	AccessInstructions   string
	SchedulingPreference string
	OnSiteContact        string
	Notes                string
	CreatedAt            time.Time
}

type Lead struct {
	ID        string
	Phone     string
	Name      string
	CallType  string
	Inquiry   string
	Notes     string
	Email     string
	Source    string
	Status    string
	CreatedAt time.Time
}

// Store is the row-level persistence boundary.
type Store interface {
	// FindCustomerByPhone returns the first customer with an exact phone
	// match, or nil when none exists.
	FindCustomerByPhone(ctx context.Context, phone string) (*Customer, error)
	CreateCustomer(ctx context.Context, c Customer) (Customer, error)
	CreateWorkOrder(ctx context.Context, wo WorkOrder) (WorkOrder, error)
	CreateLead(ctx context.Context, l Lead) (Lead, error)
}

// SaveResult reports what one save produced.
type SaveResult struct {
	CustomerID      string
	CustomerCreated bool
	WorkOrderID     string
	LeadID          string
}

// Gateway turns a completed intake record into rows. It does not
// deduplicate across sessions: at-most-once per call is enforced by the
// session's saved flag, and calling Save twice for one session is a caller
// bug this layer does not mask.
type Gateway struct {
	Store  Store
	Logger *slog.Logger
}

// Save persists one intake record. Service call types look up the customer
// by phone and create one when absent, then file a work order; lead-ish
// call types file a single lead row. Errors are for the caller's log only
// and must never reach the live call.
func (g *Gateway) Save(ctx context.Context, rec intake.Record, callerNumber string) (SaveResult, error) {
	rec = rec.WithDefaults()

	if !rec.IsServiceCall() {
		return g.saveLead(ctx, rec, callerNumber)
	}
	return g.saveWorkOrder(ctx, rec, callerNumber)
}

func (g *Gateway) saveLead(ctx context.Context, rec intake.Record, callerNumber string) (SaveResult, error) {
	lead, err := g.Store.CreateLead(ctx, Lead{
		ID:       uuid.NewString(),
		Phone:    callerNumber,
		Name:     rec.Name,
		CallType: string(rec.CallType),
		Inquiry:  rec.IssueDescription,
		Notes:    rec.Notes,
		Email:    rec.Email,
		Source:   "phone",
		Status:   StatusNew,
	})
	if err != nil {
		return SaveResult{}, fmt.Errorf("create lead: %w", err)
	}
	return SaveResult{LeadID: lead.ID}, nil
}

func (g *Gateway) saveWorkOrder(ctx context.Context, rec intake.Record, callerNumber string) (SaveResult, error) {
	var result SaveResult

	customer, err := g.Store.FindCustomerByPhone(ctx, callerNumber)
	if err != nil {
		return SaveResult{}, fmt.Errorf("find customer by phone: %w", err)
	}
	if customer == nil {
		created, err := g.Store.CreateCustomer(ctx, Customer{
			ID:      uuid.NewString(),
			Phone:   callerNumber,
			Name:    rec.Name,
			Address: rec.Address,
			Type:    firstNonEmpty(rec.PropertyType, "residential"),
			Source:  "phone",
		})
		if err != nil {
			return SaveResult{}, fmt.Errorf("create customer: %w", err)
		}
		customer = &created
		result.CustomerCreated = true
	}
	result.CustomerID = customer.ID

	wo, err := g.Store.CreateWorkOrder(ctx, WorkOrder{
		ID:                   uuid.NewString(),
		CustomerID:           customer.ID,
		CallType:             string(rec.CallType),
		IssueDescription:     rec.IssueDescription,
		SystemType:           string(rec.SystemType),
		Priority:             string(rec.Priority),
		Status:               StatusNew,
		Brand:                rec.Brand,
		SystemAge:            rec.SystemAge,
		AccessInstructions:   rec.AccessInstructions,
		SchedulingPreference: rec.SchedulingPreference,
		OnSiteContact:        rec.OnSiteContact,
		Notes:                rec.Notes,
	})
	if err != nil {
		return SaveResult{}, fmt.Errorf("create work order: %w", err)
	}
	result.WorkOrderID = wo.ID

	if g.Logger != nil {
		g.Logger.Info("work order filed",
			"work_order_id", wo.ID,
			"customer_id", customer.ID,
			"customer_created", result.CustomerCreated,
			"priority", wo.Priority,
		)
	}
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
