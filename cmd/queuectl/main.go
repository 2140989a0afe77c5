package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Guizzs26/go-inventory-agent/internal/importer"
	"github.com/Guizzs26/go-inventory-agent/internal/models"
)

// queuectl is the operator CLI. It never touches the agent's store file
// directly (the running agent holds the lock); everything goes through
// the loopback admin API.

var adminAddr string

func main() {
	root := &cobra.Command{
		Use:           "queuectl",
		Short:         "Inspect and control a running inventory sync agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&adminAddr, "addr", "127.0.0.1:8787", "admin API address of the running agent")

	root.AddCommand(
		statusCmd(),
		flushCmd(),
		loginCmd(),
		enqueueCmd(),
		importCmd(),
		pendingCmd(),
		failedCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depth, dead letter depth and session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status struct {
				Pending        int             `json:"pending"`
				Failed         int             `json:"failed"`
				SessionExpired bool            `json:"session_expired"`
				Reachable      bool            `json:"reachable"`
				LastReport     json.RawMessage `json:"last_report"`
			}
			if err := apiGet("/api/status", &status); err != nil {
				return err
			}

			fmt.Printf("Pending:          %d\n", status.Pending)
			fmt.Printf("Failed:           %d\n", status.Failed)
			fmt.Printf("Session expired:  %v\n", status.SessionExpired)
			fmt.Printf("Backend reachable: %v\n", status.Reachable)
			if len(status.LastReport) > 0 && string(status.LastReport) != "null" {
				fmt.Printf("Last flush:       %s\n", status.LastReport)
			}
			return nil
		},
	}
}

func flushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Request an immediate flush pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apiPost("/api/flush", nil, nil); err != nil {
				return err
			}
			fmt.Println("Flush requested")
			return nil
		},
	}
}

func loginCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against the backend and store the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"username": username, "password": password}
			if err := apiPost("/api/login", body, nil); err != nil {
				return err
			}
			fmt.Println("Logged in")
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "backend username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "backend password")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("password")
	return cmd
}

func enqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <kind> <payload-json>",
		Short: "Enqueue a single mutation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := models.Kind(args[0])
			if !kind.Valid() {
				return fmt.Errorf("unknown mutation kind %q", args[0])
			}
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("payload is not valid JSON")
			}

			body := map[string]any{"kind": kind, "payload": json.RawMessage(args[1])}
			if err := apiPost("/api/enqueue", body, nil); err != nil {
				return err
			}
			fmt.Println("Enqueued", kind)
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Bulk-enqueue scans from a handheld terminal CSV export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			im := importer.NewImporter(remoteEnqueuer{}, logger)
			sum, err := im.Import(f)
			if err != nil {
				return err
			}

			fmt.Printf("Enqueued %d, skipped %d\n", sum.Enqueued, sum.Skipped)
			for _, e := range sum.Errors {
				fmt.Fprintln(os.Stderr, " -", e)
			}
			return nil
		},
	}
}

func pendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Manage the pending mutation queue",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List pending mutations in replay order",
			RunE: func(cmd *cobra.Command, args []string) error {
				var items []models.PendingMutation
				if err := apiGet("/api/pending", &items); err != nil {
					return err
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "#\tKIND\tENQUEUED\tPAYLOAD")
				for i, m := range items {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, m.Kind, m.EnqueuedAt.Format(time.RFC3339), compact(m.Payload))
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Drop every pending mutation (destructive)",
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := apiDelete("/api/pending"); err != nil {
					return err
				}
				fmt.Println("Pending queue cleared")
				return nil
			},
		},
	)
	return cmd
}

func failedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "Manage the dead letter store",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List dead-lettered mutations",
			RunE: func(cmd *cobra.Command, args []string) error {
				var items []models.FailedMutation
				if err := apiGet("/api/failed", &items); err != nil {
					return err
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "#\tKIND\tCODE\tFAILED\tDIAGNOSTIC")
				for i, f := range items {
					code := "-"
					if f.ResponseCode != nil {
						code = strconv.Itoa(*f.ResponseCode)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i, f.Original.Kind, code, f.FailedAt.Format(time.RFC3339), models.Truncate(f.Diagnostic, 80))
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "requeue <index>",
			Short: "Move a dead-lettered mutation back to the pending queue",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := apiPost("/api/failed/"+args[0]+"/requeue", nil, nil); err != nil {
					return err
				}
				fmt.Println("Requeued", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "rm <index>",
			Short: "Discard a dead-lettered mutation permanently",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := apiDelete("/api/failed/" + args[0]); err != nil {
					return err
				}
				fmt.Println("Removed", args[0])
				return nil
			},
		},
	)
	return cmd
}

// remoteEnqueuer routes importer output through the admin API.
type remoteEnqueuer struct{}

func (remoteEnqueuer) Enqueue(m models.PendingMutation) error {
	body := map[string]any{"kind": m.Kind, "payload": m.Payload}
	return apiPost("/api/enqueue", body, nil)
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func apiGet(path string, out any) error {
	res, err := httpClient.Get("http://" + adminAddr + path)
	if err != nil {
		return fmt.Errorf("agent not reachable at %s: %w", adminAddr, err)
	}
	return decode(res, out)
}

func apiPost(path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	res, err := httpClient.Post("http://"+adminAddr+path, "application/json", &buf)
	if err != nil {
		return fmt.Errorf("agent not reachable at %s: %w", adminAddr, err)
	}
	return decode(res, out)
}

func apiDelete(path string) error {
	req, err := http.NewRequest(http.MethodDelete, "http://"+adminAddr+path, nil)
	if err != nil {
		return err
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("agent not reachable at %s: %w", adminAddr, err)
	}
	return decode(res, nil)
}

func decode(res *http.Response, out any) error {
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("agent returned %d: %s", res.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("agent returned status %d", res.StatusCode)
	}
	if out == nil {
		io.Copy(io.Discard, res.Body)
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return models.Truncate(buf.String(), 100)
}
