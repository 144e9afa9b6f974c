package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var healthcheckPort int

// healthResponse mirrors internal/healthsrv's JSON /health payload; this
// command is a one-shot curl-equivalent, not a healthsrv client, so it only
// decodes the fields it needs.
type healthResponse struct {
	Status string `json:"status"`
}

func healthcheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Query the running gateway's /health endpoint and exit 0/1 accordingly",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(healthcheckPort)
		},
	}
	cmd.Flags().IntVar(&healthcheckPort, "port", 9090, "Port the gateway's health server listens on")
	return cmd
}

func runHealthcheck(port int) error {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return fmt.Errorf("healthcheck: %w", err)
	}
	defer resp.Body.Close()

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("healthcheck: decoding response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || body.Status != "up" {
		return fmt.Errorf("healthcheck: gateway reports status %q (http %d)", body.Status, resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
