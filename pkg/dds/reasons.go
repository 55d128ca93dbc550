package dds

// Rejection reasons are plain UTF-8 strings carried verbatim in REJ payloads.
// The two below are recognized specially by orchestrators distinguishing a
// "soft" rejection (retry elsewhere, target just doesn't implement this)
// from a hard one (target is simply gone).
const (
	EDoesNotHandleEvent    = "Subsystem does not handle this event"
	ESubsystemDisconnected = "Subsystem client is disconnected"
)

// Common KV rejection reasons, matched verbatim against what the client
// runtime and broker produce.
const (
	EReadOnly       = "Value is read-only"
	EWriteOnly      = "Value is write-only"
	ENotSet         = "Value has not been set yet!"
	ETargetNotFound = "Target subsystem not found"
	EUnknownKey     = "Unknown key"
	ENameNotFound   = "No subsystem with that name"
	EUnknownTarget  = "Unknown target in event call"
)
