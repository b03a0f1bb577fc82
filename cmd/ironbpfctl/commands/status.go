package commands

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// controllerStatus mirrors ironbpfd's JSON status document shape
// (cmd/ironbpfd/status.go); duplicated here rather than imported since
// cmd/ironbpfd is package main.
type controllerStatus struct {
	Label       string `json:"label"`
	Ready       bool   `json:"ready"`
	QueuedBytes uint64 `json:"queued_bytes"`
	CapacityBps uint64 `json:"capacity_bps"`
}

type daemonStatus struct {
	QueueDepths map[string]uint32  `json:"queue_depths"`
	Controllers []controllerStatus `json:"controllers"`
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show bin queue depths and path controller status",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			status, err := fetchStatus()
			if err != nil {
				return fmt.Errorf("fetch status: %w", err)
			}

			out, err := formatStatus(status, outputFormat)
			if err != nil {
				return fmt.Errorf("format status: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// fetchStatus retrieves and decodes the daemon's /status document.
func fetchStatus() (*daemonStatus, error) {
	resp, err := httpClient.Get("http://" + serverAddr + "/status")
	if err != nil {
		return nil, fmt.Errorf("request status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var status daemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}

	return &status, nil
}
