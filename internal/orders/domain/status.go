package domain

// OrderStatus captures the delivery lifecycle of an order.
type OrderStatus string

const (
	StatusProcessing     OrderStatus = "Processing"
	StatusShipped        OrderStatus = "Shipped"
	StatusInTransit      OrderStatus = "In Transit"
	StatusOutForDelivery OrderStatus = "Out for Delivery"
	StatusDelivered      OrderStatus = "Delivered"
	StatusCancelled      OrderStatus = "Cancelled"
)

// deliveryRank orders the forward-moving statuses. Cancelled sits outside the
// sequence.
var deliveryRank = map[OrderStatus]int{
	StatusProcessing:     0,
	StatusShipped:        1,
	StatusInTransit:      2,
	StatusOutForDelivery: 3,
	StatusDelivered:      4,
}

// ParseOrderStatus returns the status for s or ErrValidation.
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(s)
	if !status.Valid() {
		return "", Validationf("unknown order status %q", s)
	}
	return status, nil
}

// Valid reports whether s is a member of the enumeration.
func (s OrderStatus) Valid() bool {
	if s == StatusCancelled {
		return true
	}
	_, ok := deliveryRank[s]
	return ok
}

// IsTerminal reports whether no further transition is permitted.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransitionOrder reports whether the order state machine allows from → to.
// Delivery states only move forward (skipping ahead is allowed) and any
// non-terminal state may be cancelled.
func CanTransitionOrder(from, to OrderStatus) bool {
	if !from.Valid() || !to.Valid() || from.IsTerminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	return deliveryRank[to] > deliveryRank[from]
}

// PaymentStatus is the status of a single payment attempt.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentSuccess  PaymentStatus = "success"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:  {PaymentSuccess: true, PaymentFailed: true},
	PaymentSuccess:  {PaymentRefunded: true},
	PaymentFailed:   {},
	PaymentRefunded: {},
}

// CanTransitionPayment reports whether the payment state machine allows from → to.
func CanTransitionPayment(from, to PaymentStatus) bool {
	return paymentTransitions[from][to]
}

// IsTerminal reports whether the payment has left pending.
func (s PaymentStatus) IsTerminal() bool {
	return s != PaymentPending
}

// PaymentMethod is the channel a payer used.
type PaymentMethod string

const (
	MethodCard         PaymentMethod = "card"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodMobileMoney  PaymentMethod = "mobile_money"
	MethodUSSD         PaymentMethod = "ussd"
)

// ParsePaymentMethod validates a client-supplied method. Empty defaults to card.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case "":
		return MethodCard, nil
	case MethodCard, MethodBankTransfer, MethodMobileMoney, MethodUSSD:
		return PaymentMethod(s), nil
	default:
		return "", Validationf("unsupported payment method %q", s)
	}
}

// MethodFromChannel maps a gateway channel name onto a PaymentMethod.
// Unknown channels fall back to the method chosen at initiation.
func MethodFromChannel(channel string, fallback PaymentMethod) PaymentMethod {
	switch channel {
	case "card":
		return MethodCard
	case "bank", "bank_transfer", "dedicated_nuban":
		return MethodBankTransfer
	case "mobile_money":
		return MethodMobileMoney
	case "ussd":
		return MethodUSSD
	default:
		return fallback
	}
}
