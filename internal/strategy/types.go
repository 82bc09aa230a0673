package strategy

type State string

type Event string

const (
	StateCreated      State = "CREATED"
	StateInitialized  State = "INITIALIZED"
	StateValidated    State = "VALIDATED"
	StateOrdersPlaced State = "ORDERS_PLACED"
	StateRunning      State = "RUNNING"
	StateEmergency    State = "EMERGENCY"
	StateShuttingDown State = "SHUTTING_DOWN"
	StateStopped      State = "STOPPED"
)

const (
	EventInitialize   Event = "INITIALIZE"
	EventValidate     Event = "VALIDATE"
	EventPlaceOrders  Event = "PLACE_ORDERS"
	EventRun          Event = "RUN"
	EventShutdown     Event = "SHUTDOWN"
	EventEmergency    Event = "EMERGENCY"
	EventStopComplete Event = "STOP_COMPLETE"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateStopped
}
