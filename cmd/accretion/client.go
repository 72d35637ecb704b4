package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/accretion/internal/coordinator"
	jsonpool "github.com/ajitpratap0/accretion/pkg/json"
)

// opsClient talks to a running worker's operator API.
type opsClient struct {
	addr  string
	token string
	http  *http.Client
}

func newOpsClient(addr, token string) *opsClient {
	if token == "" {
		token = os.Getenv("ACCRETION_OPS_TOKEN")
	}
	return &opsClient{
		addr:  strings.TrimRight(addr, "/"),
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *opsClient) do(method, path string, out interface{}) error {
	req, err := http.NewRequest(method, c.addr+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("worker not reachable at %s: %w", c.addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		if jsonpool.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s", apiErr.Error.Message)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if out != nil {
		return jsonpool.Unmarshal(body, out)
	}
	return nil
}

func addClientFlags(cmd *cobra.Command, addr, token *string) {
	cmd.Flags().StringVarP(addr, "addr", "a", "http://127.0.0.1:8710", "Base URL of a worker's operator API")
	cmd.Flags().StringVar(token, "token", "", "Bearer token for mutating endpoints (defaults to $ACCRETION_OPS_TOKEN)")
}

// connectorRow mirrors the operator API's connector list entry.
type connectorRow struct {
	ConnectorID        string `json:"connector_id"`
	SourceKind         string `json:"source_kind"`
	PollInterval       string `json:"poll_interval"`
	Paused             bool   `json:"paused"`
	Due                bool   `json:"due"`
	LeasedBy           string `json:"leased_by"`
	LastStatus         string `json:"last_status"`
	DocumentsProcessed int64  `json:"documents_processed"`
}

func newConnectorsCmd() *cobra.Command {
	var addr, token string

	cmd := &cobra.Command{
		Use:   "connectors",
		Short: "List connectors known to a worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newOpsClient(addr, token)

			var rows []connectorRow
			if err := client.do(http.MethodGet, "/v1/connectors", &rows); err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("no connectors configured")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CONNECTOR\tKIND\tPOLL\tSTATE\tLAST\tDOCS")
			for _, r := range rows {
				state := "idle"
				switch {
				case r.Paused:
					state = "paused"
				case r.LeasedBy != "":
					state = "running on " + r.LeasedBy
				case r.Due:
					state = "due"
				}
				last := r.LastStatus
				if last == "" {
					last = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
					r.ConnectorID, r.SourceKind, r.PollInterval, state, last, r.DocumentsProcessed)
			}
			return w.Flush()
		},
	}

	addClientFlags(cmd, &addr, &token)
	return cmd
}

func newStatusCmd() *cobra.Command {
	var addr, token string

	cmd := &cobra.Command{
		Use:   "status <connector>",
		Short: "Show a connector's latest attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newOpsClient(addr, token)

			var a coordinator.Attempt
			path := "/v1/connectors/" + url.PathEscape(args[0]) + "/attempt"
			if err := client.do(http.MethodGet, path, &a); err != nil {
				return err
			}

			fmt.Printf("Connector:  %s\n", a.ConnectorID)
			fmt.Printf("Attempt:    %s\n", a.ID)
			fmt.Printf("Status:     %s\n", a.Status)
			fmt.Printf("Worker:     %s\n", a.WorkerID)
			fmt.Printf("Started:    %s\n", a.StartedAt.Format(time.RFC3339))
			if !a.EndedAt.IsZero() {
				fmt.Printf("Ended:      %s (took %s)\n",
					a.EndedAt.Format(time.RFC3339),
					a.EndedAt.Sub(a.StartedAt).Round(time.Second))
			}
			fmt.Printf("Documents:  %d\n", a.DocumentsProcessed)
			if a.ErrorSummary != "" {
				fmt.Printf("Error:      %s (%s)\n", a.ErrorSummary, a.ErrorCategory)
			}
			return nil
		},
	}

	addClientFlags(cmd, &addr, &token)
	return cmd
}

func newTriggerCmd() *cobra.Command {
	var addr, token string

	cmd := &cobra.Command{
		Use:   "trigger <connector>",
		Short: "Enqueue an index task for a connector now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAction(newOpsClient(addr, token), args[0], "trigger")
		},
	}

	addClientFlags(cmd, &addr, &token)
	return cmd
}

func newResyncCmd() *cobra.Command {
	var addr, token string

	cmd := &cobra.Command{
		Use:   "resync <connector>",
		Short: "Clear a connector's checkpoint so its next sweep starts over",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAction(newOpsClient(addr, token), args[0], "resync")
		},
	}

	addClientFlags(cmd, &addr, &token)
	return cmd
}

func newCancelCmd() *cobra.Command {
	var addr, token string

	cmd := &cobra.Command{
		Use:   "cancel <connector>",
		Short: "Cancel a connector's running attempt at its next batch boundary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAction(newOpsClient(addr, token), args[0], "cancel")
		},
	}

	addClientFlags(cmd, &addr, &token)
	return cmd
}

func postAction(client *opsClient, connectorID, action string) error {
	var out map[string]string
	path := "/v1/connectors/" + url.PathEscape(connectorID) + "/" + action
	if err := client.do(http.MethodPost, path, &out); err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", connectorID, out["status"])
	return nil
}
