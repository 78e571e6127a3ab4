package clustermanager

import (
	"context"
	"time"

	"clusterkit/internal/controlapi"
	"clusterkit/internal/ipc"
)

var _ controlapi.Backend = ControlBackend{}

// ClusterStatus is one row of Manager.Status's per-cluster snapshot.
type ClusterStatus struct {
	ID      int   `json:"id"`
	Ready   bool  `json:"ready"`
	Shards  []int `json:"shards"`
	Missed  int   `json:"missedHeartbeats"`
	Restart int   `json:"restartsInWindow"`
}

// Status implements controlapi.Backend, returning a snapshot of every
// cluster for the operator-facing status command.
func (m *Manager) Status(ctx context.Context) (any, error) {
	clusters := m.Clusters()
	out := make([]ClusterStatus, 0, len(clusters))
	for _, c := range clusters {
		st := ClusterStatus{ID: c.ID(), Ready: c.Ready(), Shards: c.ShardList()}
		if hb := c.HeartbeatState(); hb != nil {
			st.Missed = hb.Missed()
		}
		out = append(out, st)
	}
	return out, nil
}

// RespawnOne implements controlapi.Backend.
func (m *Manager) RespawnOne(ctx context.Context, clusterID int) error {
	c, ok := m.Cluster(clusterID)
	if !ok {
		return ipc.ErrNoChildExists
	}
	return c.Respawn(ctx, 500*time.Millisecond, 30*time.Second)
}

// ControlBackend adapts Manager to controlapi.Backend. BroadcastEval itself
// stays typed as []any for direct callers; controlapi.Backend requires an
// `any`-returning method of the same name, so the adapter supplies that
// under a distinct type instead of overloading Manager's own signature.
type ControlBackend struct {
	Manager *Manager
}

func (b ControlBackend) Status(ctx context.Context) (any, error) {
	return b.Manager.Status(ctx)
}

func (b ControlBackend) BroadcastEval(ctx context.Context, script string, clusterID *int, timeout time.Duration) (any, error) {
	return b.Manager.BroadcastEval(ctx, script, clusterID, timeout, nil)
}

func (b ControlBackend) RespawnAll(ctx context.Context) error {
	return b.Manager.RespawnAll(ctx)
}

func (b ControlBackend) RespawnOne(ctx context.Context, clusterID int) error {
	return b.Manager.RespawnOne(ctx, clusterID)
}
