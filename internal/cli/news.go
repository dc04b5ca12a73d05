package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seednet/seednet/internal/domain"
)

func init() {
	newsCmd.AddCommand(newsPublishCmd)
	rootCmd.AddCommand(newsCmd)
}

var newsCmd = &cobra.Command{
	Use:   "news [queue]",
	Short: "List news records (incoming, processed, outgoing or published)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runNews,
}

var newsPublishCmd = &cobra.Command{
	Use:   "publish <category> [key=value...]",
	Short: "Originate a news record from this node",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runNewsPublish,
}

func runNews(cmd *cobra.Command, args []string) error {
	queue := domain.QueueIncoming
	if len(args) == 1 {
		var err error
		if queue, err = domain.ParseNewsQueue(args[0]); err != nil {
			return err
		}
	}

	d, err := openNode()
	if err != nil {
		return err
	}
	defer d.Close()

	records, err := d.Network.News().List(queue)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("No news in %s.\n", queue)
		return nil
	}

	w := newTable()
	fmt.Fprintln(w, "ID\tCATEGORY\tORIGINATOR\tCREATED\tDISTRIBUTED\tATTRIBUTES")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID(), r.Category, r.Originator,
			r.Created.Format("2006-01-02 15:04"), r.Distributed, formatAttrs(r.Attributes))
	}
	return w.Flush()
}

func runNewsPublish(cmd *cobra.Command, args []string) error {
	attrs := make(map[string]string, len(args)-1)
	for _, kv := range args[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("attribute %q: want key=value", kv)
		}
		attrs[k] = v
	}

	d, err := openNode()
	if err != nil {
		return err
	}
	defer d.Close()

	rec, err := d.Network.News().PublishMyNews(d.Network.Directory().SelfID(), domain.NewsCategory(args[0]), attrs)
	if err != nil {
		return err
	}
	fmt.Printf("Published %s (%s).\n", rec.ID(), rec.Category)
	return nil
}

func formatAttrs(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + attrs[k]
	}
	return strings.Join(parts, " ")
}
