package models

import (
	"sort"
	"strings"
	"time"

	"pos-service/internal/pagination"
)

// Sortable order columns
const (
	SortByCreatedAt   = "created_at"
	SortByUpdatedAt   = "updated_at"
	SortByTotalAmount = "total_amount"
)

// OrderQuery is the filter, sort and page window of an order listing.
// An empty StoreID means all stores.
type OrderQuery struct {
	StoreID             string              `json:"store_id,omitempty"`
	Text                string              `json:"text,omitempty"`
	Statuses            []OrderStatus       `json:"statuses,omitempty"`
	PaymentStatuses     []PaymentStatus     `json:"payment_statuses,omitempty"`
	FulfillmentStatuses []FulfillmentStatus `json:"fulfillment_statuses,omitempty"`
	Sources             []OrderSource       `json:"sources,omitempty"`
	From                *time.Time          `json:"from,omitempty"`
	To                  *time.Time          `json:"to,omitempty"`
	SortBy              string              `json:"sort_by,omitempty"`
	SortDesc            bool                `json:"sort_desc,omitempty"`
	pagination.Params
}

// Normalize fills defaults and clamps the page window
func (q OrderQuery) Normalize() OrderQuery {
	switch q.SortBy {
	case SortByCreatedAt, SortByUpdatedAt, SortByTotalAmount:
	default:
		q.SortBy = SortByCreatedAt
		q.SortDesc = true
	}
	q.Text = strings.TrimSpace(q.Text)
	q.Params = q.Params.Normalize()
	return q
}

// Matches reports whether o passes every filter of q (paging ignored)
func (q OrderQuery) Matches(o *Order) bool {
	if q.StoreID != "" && o.StoreID != q.StoreID {
		return false
	}
	if len(q.Statuses) > 0 && !contains(q.Statuses, o.Status) {
		return false
	}
	if len(q.PaymentStatuses) > 0 && !contains(q.PaymentStatuses, o.PaymentStatus) {
		return false
	}
	if len(q.FulfillmentStatuses) > 0 && !contains(q.FulfillmentStatuses, o.FulfillmentStatus) {
		return false
	}
	if len(q.Sources) > 0 && !contains(q.Sources, o.Source) {
		return false
	}
	if q.From != nil && o.CreatedAt.Before(*q.From) {
		return false
	}
	if q.To != nil && !o.CreatedAt.Before(*q.To) {
		return false
	}
	if q.Text != "" && !matchesText(o, strings.ToLower(q.Text)) {
		return false
	}
	return true
}

func matchesText(o *Order, needle string) bool {
	fields := []string{o.ID, o.Customer.Name, o.Customer.Email, o.Customer.Phone}
	for _, item := range o.Items {
		fields = append(fields, item.SKU, item.Name)
	}
	for _, f := range fields {
		if f != "" && strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// SortOrders sorts orders in place by q.SortBy, ties broken by id
func SortOrders(orders []Order, q OrderQuery) {
	less := func(a, b *Order) int {
		switch q.SortBy {
		case SortByUpdatedAt:
			return compareTime(a.UpdatedAt, b.UpdatedAt)
		case SortByTotalAmount:
			return a.TotalAmount.Cmp(b.TotalAmount)
		default:
			return compareTime(a.CreatedAt, b.CreatedAt)
		}
	}
	sort.SliceStable(orders, func(i, j int) bool {
		c := less(&orders[i], &orders[j])
		if c == 0 {
			c = strings.Compare(orders[i].ID, orders[j].ID)
		}
		if q.SortDesc {
			return c > 0
		}
		return c < 0
	})
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

// OrderPage is one page of an order listing
type OrderPage struct {
	Orders     []Order               `json:"orders"`
	Pagination pagination.Pagination `json:"pagination"`
}

// ApplyQuery filters, sorts and pages orders in memory
func ApplyQuery(orders []Order, q OrderQuery) OrderPage {
	q = q.Normalize()
	matched := make([]Order, 0, len(orders))
	for i := range orders {
		if q.Matches(&orders[i]) {
			matched = append(matched, orders[i])
		}
	}
	SortOrders(matched, q)
	start, end := q.Params.Bounds(len(matched))
	return OrderPage{
		Orders:     matched[start:end],
		Pagination: pagination.New(q.Params, int64(len(matched))),
	}
}

// NewOrderPage wraps an already windowed slice of orders
func NewOrderPage(orders []Order, p pagination.Params, total int64) OrderPage {
	if orders == nil {
		orders = []Order{}
	}
	return OrderPage{Orders: orders, Pagination: pagination.New(p, total)}
}
