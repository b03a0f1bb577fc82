package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/raytheonbbn/iron-bpf/internal/binqueue"
	"github.com/raytheonbbn/iron-bpf/internal/forwarder"
	"github.com/raytheonbbn/iron-bpf/internal/qlam"
)

// controllerStatus is one path controller's introspection snapshot,
// served over the read-only control HTTP endpoint (SPEC_FULL.md §0's
// "CLI" ambient-stack bullet: a local introspection tool in the spirit
// of the teacher's gobfdctl).
type controllerStatus struct {
	Label       string `json:"label"`
	Ready       bool   `json:"ready"`
	QueuedBytes uint64 `json:"queued_bytes"`
	CapacityBps uint64 `json:"capacity_bps"`
}

// daemonStatus is the full status document served at GET /status.
type daemonStatus struct {
	QueueDepths map[string]uint32  `json:"queue_depths"`
	Controllers []controllerStatus `json:"controllers"`
}

// keyLabel renders a qlam.Key as a short human-readable string for the
// status document (e.g. "unicast:3", "group:1").
func keyLabel(key qlam.Key) string {
	kind := "unicast"
	if key.Kind == qlam.KindGroup {
		kind = "group"
	}
	return fmt.Sprintf("%s:%d", kind, key.Index)
}

// newStatusHandler returns an http.Handler that serves a JSON snapshot of
// the bin queue manager and every neighbor's path controller. Unlike the
// teacher's ConnectRPC session service, this is a plain net/http JSON
// endpoint: IRON's remote control plane is out of scope (spec.md), so no
// generated client stubs are fabricated for it.
func newStatusHandler(queues *binqueue.Manager, neighbors []*forwarder.Neighbor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := queues.Snapshot()
		status := daemonStatus{
			QueueDepths: make(map[string]uint32),
		}
		snap.ForEach(func(key qlam.Key, d qlam.Depth) {
			status.QueueDepths[keyLabel(key)] = d.Total
		})
		for _, n := range neighbors {
			status.Controllers = append(status.Controllers, controllerStatus{
				Label:       n.ID,
				Ready:       n.Controller.Ready(),
				QueuedBytes: n.Controller.QueuedBytes(),
				CapacityBps: n.Controller.CapacityBps(),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})
}
