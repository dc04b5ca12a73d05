package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/seednet/seednet/internal/daemon"
	"github.com/seednet/seednet/internal/domain"
)

// openNode opens the local node state without serving. Logging is reduced
// to errors so that command output stays readable.
func openNode() (*daemon.Daemon, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return nil, err
	}
	cfg.Logging.Level = "error"
	return daemon.NewWithConfig(cfg)
}

// hashArg accepts a raw identifier or a word to hash.
func hashArg(s string) domain.ID {
	if id, err := domain.ParseID(s); err == nil {
		return id
	}
	return domain.WordHash(s)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

func printPeers(peers []*domain.Peer) error {
	if len(peers) == 0 {
		fmt.Println("No peers.")
		return nil
	}
	w := newTable()
	fmt.Fprintln(w, "ID\tNAME\tADDRESS\tCLASS\tWORDS\tLAST SEEN")
	for _, p := range peers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			p.ID, p.Name, p.Address(), p.Class, p.WordCount,
			p.LastSeen.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
