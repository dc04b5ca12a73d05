package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seednet/seednet/internal/domain"
)

func init() {
	rootCmd.AddCommand(distanceCmd)
}

var distanceCmd = &cobra.Command{
	Use:   "distance <a> <b>",
	Short: "Print the ring distance between two ids or words",
	Args:  cobra.ExactArgs(2),
	RunE:  runDistance,
}

func runDistance(cmd *cobra.Command, args []string) error {
	a, b := hashArg(args[0]), hashArg(args[1])
	fmt.Printf("%s  %s\n%s  %s\ndistance  %.6f\n", a, args[0], b, args[1], domain.Distance(a, b))
	return nil
}
