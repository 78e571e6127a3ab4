package ipc

// KindError is a typed sentinel error carrying one of the closed error
// kinds from spec.md §7. It implements Name() so ErrorReply can populate
// the wire-level _error.name field.
type KindError struct {
	name    string
	message string
}

func newKindError(name, message string) *KindError {
	return &KindError{name: name, message: message}
}

func (e *KindError) Error() string { return e.message }
func (e *KindError) Name() string  { return e.name }

// The closed set of error kinds from spec.md §7.
var (
	ErrProcessExists                = newKindError("ProcessExists", "cluster transport already running")
	ErrReadyDisconnected            = newKindError("ReadyDisconnected", "child disconnected before becoming ready")
	ErrReadyDied                    = newKindError("ReadyDied", "child died before becoming ready")
	ErrReadyTimeout                 = newKindError("ReadyTimeout", "child did not become ready before spawn timeout")
	ErrNoChildExists                = newKindError("NoChildExists", "cluster has no running transport")
	ErrBroadcastEvalRequestTimedOut = newKindError("BroadcastEvalRequestTimedOut", "broadcast eval request timed out")
	ErrEvalRequestTimedOut          = newKindError("EvalRequestTimedOut", "eval request timed out")
	ErrTargetClusterNotProvided     = newKindError("TargetClusterNotProvided", "could not resolve a target cluster for evalOnCluster")
	ErrInvalidScript                = newKindError("InvalidScript", "script is not a recognized operation")
	ErrAckDeliveryFailed            = newKindError("AckDeliveryFailed", "heartbeat ack delivery failed")
	ErrSpawnQueueAuto               = newKindError("SpawnQueueAuto", "spawnNextCluster called while the spawn queue is in auto mode")
	ErrNoChildOrMasterOrBadMode     = newKindError("NoChildOrMasterOrBadMode", "CLUSTER_MANAGER_MODE is missing or invalid")
	ErrTimedOut                     = newKindError("TimedOut", "request timed out")
)
