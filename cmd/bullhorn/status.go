package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running watcher's status endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get("http://" + statusAddr + "/v1/status")
		if err != nil {
			return fmt.Errorf("querying status: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status endpoint returned %s", resp.Status)
		}
		_, err = io.Copy(os.Stdout, resp.Body)
		return err
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "localhost:8090", "status server address")
}
