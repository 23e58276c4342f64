package shared

// Websocket event names. Client events are dispatched by the hub to
// registered handlers; server events are pushed out by the engine.
const (
	EventActionRequest  = "action:request"
	EventActionQueued   = "action:queued"
	EventActionError    = "action:error"
	EventActionExecuted = "action:executed"

	EventRollRequest      = "roll:request"
	EventRollResponse     = "roll:response"
	EventRollRequestError = "roll:request:error"

	EventHeartbeatPing = "heartbeat:ping"
	EventHeartbeatPong = "heartbeat:pong"

	EventStateUpdate   = "state:update"
	EventStateResync   = "state:resync-request"
	EventStateFull     = "state:full"
	EventChatMessage   = "chat:message"
	EventGMConfirm     = "gm:confirm"
	EventGMConfirmResp = "gm:confirm:response"
	EventGMUnavailable = "gm:unavailable"
	EventGMAvailable   = "gm:available"

	EventApprovalPending  = "approval:pending"
	EventApprovalDecision = "approval:decision"
	EventApprovalStale    = "approval:stale"

	EventTurnStart   = "turn:start"
	EventTurnAdvance = "turn:advance"
	EventTurnReorder = "turn:reorder"
	EventTurnUpdate  = "turn:update"

	EventParticipantConnected    = "participant:connected"
	EventParticipantDisconnected = "participant:disconnected"
	EventSessionJoined           = "session:joined"
)

// Wire error codes, mirrored in ActionAck.Code and error payloads.
const (
	CodeValidation         = "validation"
	CodeRollTimeout        = "roll-timeout"
	CodeRollerDisconnected = "roller-disconnected"
	CodeGMUnavailable      = "gm-unavailable"
	CodeUnauthorized       = "unauthorized"
	CodeStateConflict      = "state-conflict"
	CodeHandlerFailed      = "handler-failed"
)
