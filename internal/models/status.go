package models

// StatusAxis names one of the three independent order status fields
type StatusAxis string

const (
	AxisOrder       StatusAxis = "status"
	AxisPayment     StatusAxis = "payment_status"
	AxisFulfillment StatusAxis = "fulfillment_status"
)

// OrderStatus is the commercial state of an order
type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "pending"
	OrderStatusProcessing        OrderStatus = "processing"
	OrderStatusShipped           OrderStatus = "shipped"
	OrderStatusDelivered         OrderStatus = "delivered"
	OrderStatusCancelled         OrderStatus = "cancelled"
	OrderStatusRefunded          OrderStatus = "refunded"
	OrderStatusPartiallyRefunded OrderStatus = "partially_refunded"
)

// PaymentStatus is the settlement state of an order or a single payment
type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "pending"
	PaymentStatusAuthorized    PaymentStatus = "authorized"
	PaymentStatusPaid          PaymentStatus = "paid"
	PaymentStatusPartiallyPaid PaymentStatus = "partially_paid"
	PaymentStatusFailed        PaymentStatus = "failed"
	PaymentStatusCancelled     PaymentStatus = "cancelled"
	PaymentStatusRefunded      PaymentStatus = "refunded"
)

// FulfillmentStatus is the physical delivery state of an order
type FulfillmentStatus string

const (
	FulfillmentStatusPending    FulfillmentStatus = "pending"
	FulfillmentStatusProcessing FulfillmentStatus = "processing"
	FulfillmentStatusShipped    FulfillmentStatus = "shipped"
	FulfillmentStatusDelivered  FulfillmentStatus = "delivered"
	FulfillmentStatusCancelled  FulfillmentStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:           {OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusProcessing:        {OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusShipped:           {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:         {OrderStatusRefunded, OrderStatusPartiallyRefunded},
	OrderStatusPartiallyRefunded: {OrderStatusRefunded},
	OrderStatusCancelled:         {OrderStatusRefunded},
	OrderStatusRefunded:          nil,
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:       {PaymentStatusAuthorized, PaymentStatusPaid, PaymentStatusPartiallyPaid, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusAuthorized:    {PaymentStatusPaid, PaymentStatusPartiallyPaid, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusPartiallyPaid: {PaymentStatusPaid, PaymentStatusRefunded, PaymentStatusCancelled},
	PaymentStatusFailed:        {PaymentStatusPending, PaymentStatusPaid, PaymentStatusCancelled},
	PaymentStatusPaid:          {PaymentStatusRefunded},
	PaymentStatusCancelled:     nil,
	PaymentStatusRefunded:      nil,
}

var fulfillmentTransitions = map[FulfillmentStatus][]FulfillmentStatus{
	FulfillmentStatusPending:    {FulfillmentStatusProcessing, FulfillmentStatusShipped, FulfillmentStatusDelivered, FulfillmentStatusCancelled},
	FulfillmentStatusProcessing: {FulfillmentStatusShipped, FulfillmentStatusDelivered, FulfillmentStatusCancelled},
	FulfillmentStatusShipped:    {FulfillmentStatusDelivered},
	FulfillmentStatusDelivered:  nil,
	FulfillmentStatusCancelled:  nil,
}

// Valid reports whether s is a known order status
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// CanTransitionTo reports whether the edge s -> to is allowed.
// Staying in the same status is always allowed.
func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	return canTransition(orderTransitions, s, to)
}

// Terminal reports whether no further transitions leave s
func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(orderTransitions[s]) == 0
}

// Valid reports whether s is a known payment status
func (s PaymentStatus) Valid() bool {
	_, ok := paymentTransitions[s]
	return ok
}

// CanTransitionTo reports whether the edge s -> to is allowed.
func (s PaymentStatus) CanTransitionTo(to PaymentStatus) bool {
	return canTransition(paymentTransitions, s, to)
}

// Terminal reports whether no further transitions leave s
func (s PaymentStatus) Terminal() bool {
	return s.Valid() && len(paymentTransitions[s]) == 0
}

// Valid reports whether s is a known fulfillment status
func (s FulfillmentStatus) Valid() bool {
	_, ok := fulfillmentTransitions[s]
	return ok
}

// CanTransitionTo reports whether the edge s -> to is allowed.
func (s FulfillmentStatus) CanTransitionTo(to FulfillmentStatus) bool {
	return canTransition(fulfillmentTransitions, s, to)
}

// Terminal reports whether no further transitions leave s
func (s FulfillmentStatus) Terminal() bool {
	return s.Valid() && len(fulfillmentTransitions[s]) == 0
}

func canTransition[S comparable](table map[S][]S, from, to S) bool {
	next, ok := table[from]
	if !ok {
		return false
	}
	if _, ok := table[to]; !ok {
		return false
	}
	if from == to {
		return true
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// AllOrderStatuses lists every order status
func AllOrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered,
		OrderStatusCancelled, OrderStatusRefunded, OrderStatusPartiallyRefunded,
	}
}

// AllPaymentStatuses lists every payment status
func AllPaymentStatuses() []PaymentStatus {
	return []PaymentStatus{
		PaymentStatusPending, PaymentStatusAuthorized, PaymentStatusPaid, PaymentStatusPartiallyPaid,
		PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusRefunded,
	}
}

// AllFulfillmentStatuses lists every fulfillment status
func AllFulfillmentStatuses() []FulfillmentStatus {
	return []FulfillmentStatus{
		FulfillmentStatusPending, FulfillmentStatusProcessing, FulfillmentStatusShipped,
		FulfillmentStatusDelivered, FulfillmentStatusCancelled,
	}
}
