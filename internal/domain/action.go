package domain

// Action represents the type of trading action to be performed.
type Action int

const (
	// ActionNone means the signal does not lead to an order.
	ActionNone Action = iota
	ActionBuy
	ActionSell
)

// String returns the string representation of the action
func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	default:
		return "none"
	}
}

// Side maps the action onto an order side.
func (a Action) Side() Side {
	if a == ActionSell {
		return SideSell
	}
	return SideBuy
}

// routes is the complete signal kind → action table. Plain entry and exit
// are never subscribed to but are routed symmetrically with their fills.
var routes = map[SignalKind]Action{
	SignalEntry:     ActionBuy,
	SignalEntryFill: ActionBuy,
	SignalExit:      ActionSell,
	SignalExitFill:  ActionSell,
}

// RouteSignal returns the action for a signal kind; unknown kinds map to ActionNone.
func RouteSignal(kind SignalKind) Action {
	return routes[kind]
}
