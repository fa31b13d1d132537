package wire

// Operation selects what a request asks the daemon to do.
type Operation uint8

const (
	// OpPing checks liveness and returns the daemon version.
	OpPing Operation = 1

	// OpRequestFunction builds and registers a function graph.
	OpRequestFunction Operation = 2

	// OpRemoveFunction destroys a function owned by the session.
	OpRemoveFunction Operation = 3

	// OpQuery returns per-node information about a function.
	OpQuery Operation = 4

	// OpConnect wires a function's nodes.
	OpConnect Operation = 5

	// OpStart starts a function.
	OpStart Operation = 6

	// OpStop stops a function.
	OpStop Operation = 7

	// OpDisconnect unwires a function.
	OpDisconnect Operation = 8

	// OpSetControl writes a control on one element of a function.
	OpSetControl Operation = 9

	// OpGetControl reads a control from one element of a function.
	OpGetControl Operation = 10

	// OpListFunctions lists registered functions.
	OpListFunctions Operation = 11

	// OpListNodes lists registered nodes.
	OpListNodes Operation = 12

	// OpSubscribe registers for frame notifications of a function.
	OpSubscribe Operation = 13

	// OpUnsubscribe cancels a frame subscription.
	OpUnsubscribe Operation = 14
)

var operationNames = [...]string{
	OpPing:            "Ping",
	OpRequestFunction: "RequestFunction",
	OpRemoveFunction:  "RemoveFunction",
	OpQuery:           "Query",
	OpConnect:         "Connect",
	OpStart:           "Start",
	OpStop:            "Stop",
	OpDisconnect:      "Disconnect",
	OpSetControl:      "SetControl",
	OpGetControl:      "GetControl",
	OpListFunctions:   "ListFunctions",
	OpListNodes:       "ListNodes",
	OpSubscribe:       "Subscribe",
	OpUnsubscribe:     "Unsubscribe",
}

// String returns the operation name.
func (o Operation) String() string {
	if o.IsValid() {
		return operationNames[o]
	}
	return "Unknown"
}

// IsValid returns true if the operation is known.
func (o Operation) IsValid() bool {
	return o >= OpPing && o <= OpUnsubscribe
}
