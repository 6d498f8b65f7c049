package cli

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracklab/nditracker/internal/config"
	"github.com/tracklab/nditracker/internal/tracker"
)

// NewBeepCmd creates the "beep" subcommand, a quick end-to-end check that
// a measurement controller is reachable.
func NewBeepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "beep [count]",
		Short: "Connect to the controller and sound its beeper",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runBeep,
	}

	cmd.Flags().StringP("config", "c", "/etc/nditracker/config.yaml", "Path to config file")
	cmd.Flags().String("port", "", "Override serial port (e.g. /dev/ttyUSB0)")

	return cmd
}

func runBeep(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	port, _ := cmd.Flags().GetString("port")

	count := 2
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return exitError(2, "count %q is not a number", args[0])
		}
		count = n
	}

	log.SetFlags(log.Ltime)

	cfg := config.LoadConfig(configPath)
	if port != "" {
		cfg.Serial.Port = port
	}

	ctrl := tracker.NewController(tracker.Config{
		PortName:    cfg.Serial.Port,
		ReadTimeout: time.Duration(cfg.Serial.ReadTimeoutMs) * time.Millisecond,
	})
	if err := ctrl.Connect(); err != nil {
		return err
	}
	defer ctrl.Disconnect()

	if err := ctrl.Beep(count); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "beeped %d time(s) on %s\n", count, ctrl.Port())
	return nil
}
