package models

// Transitions lists the statuses reachable from each status.
type Transitions map[string]map[string]bool

// Can reports whether from -> to is allowed.
func (t Transitions) Can(from, to string) bool {
	return t[from][to]
}

var PublicationTransitions = Transitions{
	ProductStatusDraft:       {ProductStatusPublished: true},
	ProductStatusPublished:   {ProductStatusUnpublished: true},
	ProductStatusUnpublished: {ProductStatusPublished: true},
}

var InstoreOrderTransitions = Transitions{
	InstoreOrderStatusInProgress: {
		InstoreOrderStatusCompleted: true,
		InstoreOrderStatusCanceled:  true,
		InstoreOrderStatusTimeout:   true,
	},
	InstoreOrderStatusCompleted: {},
	InstoreOrderStatusCanceled:  {},
	InstoreOrderStatusTimeout:   {},
}

var ProductOrderTransitions = Transitions{
	ProductOrderStatusPending: {
		ProductOrderStatusCompleted: true,
		ProductOrderStatusCancelled: true,
		ProductOrderStatusFailed:    true,
	},
}

var ExperienceOrderTransitions = Transitions{
	ExperienceOrderStatusPending: {
		ExperienceOrderStatusCompleted: true,
		ExperienceOrderStatusFailed:    true,
		ExperienceOrderStatusTimeout:   true,
	},
}

var TicketTransitions = Transitions{
	TicketStatusUnused: {TicketStatusUsed: true},
}
