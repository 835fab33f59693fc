package lifecycle

// Order statuses
const (
	OrderDraft      = "draft"
	OrderQuoted     = "quoted"
	OrderApproved   = "approved"
	OrderPaid       = "paid"
	OrderProcessing = "processing"
	OrderShipped    = "shipped"
	OrderFulfilled  = "fulfilled"
	OrderCancelled  = "cancelled"
)

// orderTransitions is the declared edge set. cancelled is reachable
// from any non-terminal status; fulfilled and cancelled are terminal.
var orderTransitions = map[string][]string{
	OrderDraft:      {OrderQuoted, OrderCancelled},
	OrderQuoted:     {OrderApproved, OrderCancelled},
	OrderApproved:   {OrderPaid, OrderCancelled},
	OrderPaid:       {OrderProcessing, OrderFulfilled, OrderCancelled},
	OrderProcessing: {OrderShipped, OrderCancelled},
	OrderShipped:    {OrderFulfilled, OrderCancelled},
	OrderFulfilled:  {},
	OrderCancelled:  {},
}

// crmStages maps each order status to the external CRM pipeline stage
// vocabulary. Emitted one-way on synchronization; never read back.
var crmStages = map[string]string{
	OrderDraft:      "Lead",
	OrderQuoted:     "Quoted",
	OrderApproved:   "Qualified",
	OrderPaid:       "Closed Won",
	OrderProcessing: "Closed Won",
	OrderShipped:    "Closed Won",
	OrderFulfilled:  "Fulfilled",
	OrderCancelled:  "Closed Lost",
}

// ValidOrderStatus reports whether s is a known order status.
func ValidOrderStatus(s string) bool {
	_, ok := orderTransitions[s]
	return ok
}

// CanTransitionOrder reports whether from -> to is a declared edge.
func CanTransitionOrder(from, to string) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderSources returns the statuses an order may hold immediately
// before reaching target.
func OrderSources(target string) []string {
	var sources []string
	for from, tos := range orderTransitions {
		for _, to := range tos {
			if to == target {
				sources = append(sources, from)
			}
		}
	}
	return sources
}

// CRMStage returns the external pipeline stage for an order status.
func CRMStage(status string) string {
	stage, ok := crmStages[status]
	if !ok {
		return "Lead"
	}
	return stage
}
