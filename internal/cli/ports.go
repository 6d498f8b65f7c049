package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tracklab/nditracker/internal/transport"
)

// NewPortsCmd creates the "ports" subcommand.
func NewPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports and their USB identities",
		RunE:  runPorts,
	}
}

func runPorts(cmd *cobra.Command, _ []string) error {
	ports, err := transport.ListPorts()
	if err != nil {
		return fmt.Errorf("list ports: %w", err)
	}
	if len(ports) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tUSB\tVID:PID\tSERIAL\tPRODUCT")
	for _, p := range ports {
		usb, vidpid := "-", "-"
		if p.IsUSB {
			usb = "yes"
			vidpid = fmt.Sprintf("%s:%s", p.VID, p.PID)
		}
		serial := p.SerialNumber
		if serial == "" {
			serial = "-"
		}
		product := p.Product
		if product == "" {
			product = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Name, usb, vidpid, serial, product)
	}
	return w.Flush()
}
