package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tracklab/nditracker/internal/rom"
)

// NewRomCmd creates the "rom" subcommand for inspecting tool definition
// files before declaring them in the config.
func NewRomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rom <file...>",
		Short: "Inspect tool definition (.rom) files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRom,
	}

	cmd.Flags().Bool("markers", false, "Print the marker geometry table")

	return cmd
}

func runRom(cmd *cobra.Command, args []string) error {
	showMarkers, _ := cmd.Flags().GetBool("markers")
	out := cmd.OutOrStdout()
	for i, path := range args {
		if i > 0 {
			fmt.Fprintln(out)
		}
		if err := printRom(out, path, showMarkers); err != nil {
			return err
		}
	}
	return nil
}

func printRom(out io.Writer, path string, showMarkers bool) error {
	def, err := rom.ReadFile(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "file:            %s\n", path)
	fmt.Fprintf(out, "main type:       %s (%d)\n", def.MainTypeName(), def.MainType)
	fmt.Fprintf(out, "sub type:        %s (%d)\n", def.SubTypeName(), def.SubType)
	fmt.Fprintf(out, "revision:        %d\n", def.Revision)
	fmt.Fprintf(out, "sequence:        %d\n", def.SequenceNumber)
	fmt.Fprintf(out, "date:            %s\n", def.Date.Format("2006-01-02"))
	fmt.Fprintf(out, "manufacturer:    %s\n", def.Manufacturer)
	fmt.Fprintf(out, "part number:     %d\n", def.PartNumber)
	fmt.Fprintf(out, "marker type:     %s (%d)\n", def.MarkerTypeName(), def.MarkerType)
	fmt.Fprintf(out, "markers:         %d (minimum %d)\n", def.MarkerCount, def.MinMarkers)
	fmt.Fprintf(out, "min angle:       %d deg\n", def.MinMarkerAngle)
	fmt.Fprintf(out, "min error:       %.2f mm\n", def.MinMarkerError)

	if showMarkers {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "  #      x_mm      y_mm      z_mm  face")
		faces := def.MarkerFaces()
		for i, m := range def.Markers() {
			fmt.Fprintf(out, "%3d  %8.2f  %8.2f  %8.2f  %4d\n", i, m.X, m.Y, m.Z, faces[i])
		}
	}
	return nil
}
