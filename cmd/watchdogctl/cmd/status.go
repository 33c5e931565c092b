package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// statusCmd queries a running watchdogd's /healthz endpoint.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report a running watchdogd daemon's liveness status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := getJSON(daemonAddr + "/healthz")
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	},
}

// profilesCmd queries a running watchdogd's /profiles endpoint.
var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Report every configured profile's current phase from a running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := getJSON(daemonAddr + "/profiles")
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(profilesCmd)
}

func getJSON(url string) ([]byte, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, body)
	}

	var pretty interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		return body, nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return body, nil
	}
	return out, nil
}
