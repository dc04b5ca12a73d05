package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seednet/seednet/internal/domain"
)

func init() {
	targetsCmd.Flags().IntVarP(&targetsCount, "count", "n", 0, "Targets wanted (default: redundancy)")
	rootCmd.AddCommand(targetsCmd)
}

var targetsCount int

var targetsCmd = &cobra.Command{
	Use:   "targets <word>",
	Short: "Show the peers a word's index would be sent to and searched at",
	Args:  cobra.ExactArgs(1),
	RunE:  runTargets,
}

func runTargets(cmd *cobra.Command, args []string) error {
	d, err := openNode()
	if err != nil {
		return err
	}
	defer d.Close()

	ranking := d.Network.Ranking()
	count := targetsCount
	if count <= 0 {
		count = ranking.Config().Redundancy
	}
	hash := hashArg(args[0])
	fmt.Printf("word %q -> %s (responsible: %v)\n", args[0], hash, ranking.IsResponsible(hash))

	fmt.Println("\nTransfer targets:")
	if err := printPeers(ranking.DHTTargets(count, 0, hash, hash, d.Network.Config().TransferMaxDistance)); err != nil {
		return err
	}
	fmt.Println("\nSearch targets:")
	return printPeers(ranking.SelectSearchTargets([]domain.ID{hash}, count))
}
