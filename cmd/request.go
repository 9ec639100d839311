package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Submit and manage reservation requests against a running server",
	}
	cmd.PersistentFlags().String("server", "http://localhost:8080", "reservation-agent server base URL")
	cmd.AddCommand(newRequestCreateCmd())
	cmd.AddCommand(newRequestListCmd())
	cmd.AddCommand(newRequestCancelCmd())
	cmd.AddCommand(newRequestRetryCmd())
	return cmd
}

func newRequestCreateCmd() *cobra.Command {
	var (
		restaurant, date, timeStr, email, venueID, bookingOpen, profile string
		partySize                                                       int
	)
	c := &cobra.Command{
		Use:   "create",
		Short: "Submit a new reservation acquisition request",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"restaurant_name": restaurant,
				"date":            date,
				"time":            timeStr,
				"party_size":      partySize,
				"contact_email":   email,
			}
			if venueID != "" {
				body["venue_id"] = venueID
			}
			if bookingOpen != "" {
				t, err := time.Parse(time.RFC3339, bookingOpen)
				if err != nil {
					return fmt.Errorf("invalid --booking-open-time (want RFC3339): %w", err)
				}
				body["booking_open_time"] = t
			}
			if profile != "" {
				body["profile"] = profile
			}
			return postJSON(cmd, "/reservations", body)
		},
	}
	c.Flags().StringVar(&restaurant, "restaurant", "", "restaurant name")
	c.Flags().StringVar(&date, "date", "", "reservation date YYYY-MM-DD")
	c.Flags().StringVar(&timeStr, "time", "", "reservation time HH:MM")
	c.Flags().IntVar(&partySize, "party-size", 2, "party size")
	c.Flags().StringVar(&email, "email", "", "contact email")
	c.Flags().StringVar(&venueID, "venue-id", "", "pre-known venue id")
	c.Flags().StringVar(&bookingOpen, "booking-open-time", "", "RFC3339 instant the booking window opens")
	c.Flags().StringVar(&profile, "profile", "", "named acquisition profile to apply (see ACQUISITION_PROFILE_FILE)")
	_ = c.MarkFlagRequired("restaurant")
	_ = c.MarkFlagRequired("date")
	_ = c.MarkFlagRequired("time")
	_ = c.MarkFlagRequired("email")
	return c
}

func newRequestListCmd() *cobra.Command {
	var status string
	c := &cobra.Command{
		Use:   "list",
		Short: "List reservation requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/reservations"
			if status != "" {
				path += "?status=" + status
			}
			return getJSON(cmd, path)
		},
	}
	c.Flags().StringVar(&status, "status", "", "filter by status")
	return c
}

func newRequestCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a reservation request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doMethod(cmd, http.MethodDelete, "/reservations/"+args[0])
		},
	}
}

func newRequestRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Return a request to pending and resubmit it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doMethod(cmd, http.MethodPost, "/reservations/"+args[0]+"/retry")
		},
	}
}

func serverURL(cmd *cobra.Command) string {
	v, _ := cmd.Flags().GetString("server")
	return v
}

func postJSON(cmd *cobra.Command, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(serverURL(cmd)+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func getJSON(cmd *cobra.Command, path string) error {
	resp, err := http.Get(serverURL(cmd) + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func doMethod(cmd *cobra.Command, method, path string) error {
	req, err := http.NewRequest(method, serverURL(cmd)+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "server returned %s: %s\n", resp.Status, string(b))
		if resp.StatusCode >= 500 {
			return fmt.Errorf("server error %s", resp.Status)
		}
		return nil
	}
	var pretty bytes.Buffer
	if len(b) > 0 {
		if err := json.Indent(&pretty, b, "", "  "); err == nil {
			fmt.Fprintln(os.Stdout, pretty.String())
			return nil
		}
	}
	fmt.Fprintln(os.Stdout, string(b))
	return nil
}
