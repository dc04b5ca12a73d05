package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seednet/seednet/internal/domain"
	"github.com/seednet/seednet/internal/infra/seeddb"
)

func init() {
	seedsCmd.Flags().StringVarP(&seedsPartition, "partition", "p", "connected", "connected, disconnected or potential")
	seedsCmd.Flags().StringVarP(&seedsSort, "sort", "s", "last_seen", "Sort field")
	seedsCmd.Flags().BoolVar(&seedsAsc, "asc", false, "Sort ascending")
	seedsCmd.Flags().IntVarP(&seedsLimit, "limit", "n", 50, "Maximum rows (0 for all)")
	rootCmd.AddCommand(seedsCmd)
}

var (
	seedsPartition string
	seedsSort      string
	seedsAsc       bool
	seedsLimit     int
)

var seedsCmd = &cobra.Command{
	Use:     "seeds",
	Aliases: []string{"peers"},
	Short:   "List known peers",
	RunE:    runSeeds,
}

func runSeeds(cmd *cobra.Command, args []string) error {
	part, err := seeddb.ParsePartition(seedsPartition)
	if err != nil {
		return err
	}
	field, err := domain.ParseSortField(seedsSort)
	if err != nil {
		return err
	}

	d, err := openNode()
	if err != nil {
		return err
	}
	defer d.Close()

	dir := d.Network.Directory()
	peers := dir.SortedBy(part, field, seedsAsc)
	if seedsLimit > 0 && len(peers) > seedsLimit {
		peers = peers[:seedsLimit]
	}
	fmt.Printf("%s: %d peers (self %s)\n\n", part, dir.Size(part), dir.SelfID())
	return printPeers(peers)
}
