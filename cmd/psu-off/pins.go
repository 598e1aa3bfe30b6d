package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/sweeney/psu-off/internal/pinmap"
)

func newPinsCmd(o *options) *cobra.Command {
	var (
		revision int
		mode     string
	)
	cmd := &cobra.Command{
		Use:   "pins [pin]",
		Short: "Print the header pin table or resolve one pin",
		Long: `Print the physical (BOARD) to BCM mapping for the board revision, or
resolve a single pin given in --mode numbering to the other numbering.

The revision is detected from /proc/cpuinfo unless --revision is given.`,
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{configOptional: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rev := pinmap.Revision(revision)
			if rev == 0 {
				rev = detectRevision(o.logger)
			}
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "BOARD\tBCM\t(%s)\n", rev)
				table := pinmap.Table(rev)
				for physical := 1; physical < len(table); physical++ {
					if logical, err := pinmap.ToLogical(rev, physical); err == nil {
						fmt.Fprintf(tw, "%d\t%d\n", physical, logical)
					}
				}
				return tw.Flush()
			}

			pin, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("pin %q: %w", args[0], err)
			}
			from, err := pinmap.ParseMode(mode)
			if err != nil {
				return err
			}
			to := pinmap.ModeLogical
			if from == pinmap.ModeLogical {
				to = pinmap.ModePhysical
			}
			resolved, err := pinmap.Resolve(from, to, rev, pin)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %d = %s %d (%s)\n", from, pin, to, resolved, rev)
			return nil
		},
	}
	cmd.Flags().IntVar(&revision, "revision", 0, "board revision 1, 2 or 3 (0 detects)")
	cmd.Flags().StringVar(&mode, "mode", string(pinmap.ModePhysical), "numbering of the pin argument (BOARD or BCM)")
	return cmd
}
