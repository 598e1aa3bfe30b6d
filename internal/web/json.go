package web

// Power API commands. turnoffPSU is the older spelling, still accepted.
const (
	CommandTurnPSUOff  = "turnPSUOff"
	CommandTurnOffPSU  = "turnoffPSU"
	CommandGetPSUState = "getPSUState"
)

// CommandRequest is the body of POST /api/psu.
type CommandRequest struct {
	Command string `json:"command"`
}

// StateResponse answers GET /api/psu and getPSUState.
type StateResponse struct {
	IsPoweredOn bool `json:"isPoweredOn"`
}
