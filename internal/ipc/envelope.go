// Package ipc defines the wire message shape and Transport abstraction that
// join the manager and a cluster child (spec.md §4.1, §6.3).
package ipc

import "encoding/json"

// Wire-level discriminators, exact strings per spec.md §6.3.
const (
	KindReady        = "_ready"
	KindDisconnect   = "_disconnect"
	KindReconnecting = "_reconnecting"
	KindKeepAlive    = "_keepAlive"
	KindAck          = "ack"

	// Manager-bound (sent by a cluster child to its manager-side Cluster).
	KindSFetchProp           = "_sFetchProp"
	KindSEval                = "_sEval"
	KindSManagerEval         = "_sManagerEval"
	KindSClusterEval         = "_sClusterEval"
	KindSClusterEvalResponse = "_sClusterEvalResponse"
	KindSManagerEvalResponse = "_sManagerEvalResponse"
	KindSRespawnAll          = "_sRespawnAll"
	KindSpawnNextCluster     = "_spawnNextCluster"
	KindSCustom              = "_sCustom"

	// Child-bound (sent by the manager/ClusterManager to a cluster child).
	KindFetchProp           = "_fetchProp"
	KindEval                = "_eval"
	KindSClusterEvalRequest = "_sClusterEvalRequest"
)

// Envelope is the common message shape shared by every request/reply pair
// (spec.md §3 MessageEnvelope). Payload is kind-specific and decoded by the
// handler for that Kind.
type Envelope struct {
	Nonce     string          `json:"nonce,omitempty"`
	Kind      string          `json:"kind"`
	TimeoutMS int64           `json:"timeout,omitempty"`
	Options   map[string]any  `json:"options,omitempty"`
	SRequest  bool            `json:"_sRequest,omitempty"`
	SReply    bool            `json:"_sReply,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     *WireError      `json:"_error,omitempty"`
}

// WireError is the error shape carried by failed replies (spec.md §6.3).
type WireError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

func (e *WireError) Error() string {
	if e == nil {
		return ""
	}
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// New builds an Envelope with the given kind and JSON-encoded payload.
func New(kind string, payload any) (Envelope, error) {
	env := Envelope{Kind: kind}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = raw
	}
	return env, nil
}

// WithNonce returns a copy of env carrying the given nonce.
func (env Envelope) WithNonce(nonce string) Envelope {
	env.Nonce = nonce
	return env
}

// Decode unmarshals env.Payload into v.
func (env Envelope) Decode(v any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(env.Payload, v)
}

// ErrorReply builds a reply envelope carrying a WireError for the given
// nonce and kind (error replies always echo the originating nonce,
// spec.md §6.3).
func ErrorReply(kind, nonce string, err error) Envelope {
	we := &WireError{Message: err.Error()}
	if named, ok := err.(interface{ Name() string }); ok {
		we.Name = named.Name()
	}
	return Envelope{Kind: kind, Nonce: nonce, SReply: true, Error: we}
}
