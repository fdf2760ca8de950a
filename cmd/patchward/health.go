package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the daemon and its database are up",
	RunE: func(cmd *cobra.Command, args []string) error {
		health, err := CheckHealth(&http.Client{Timeout: 5 * time.Second})
		if health != nil {
			state := color.GreenString("ok")
			if !health.OK {
				state = color.RedString("unhealthy")
			}
			fmt.Printf("daemon:  %s (version %s)\n", state, health.Version)
			fmt.Printf("db:      %s\n", health.DB)
			fmt.Printf("time:    %s\n", health.Time)
		}
		return err
	},
}
