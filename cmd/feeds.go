package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"eggdash/feeds"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func feedsCmd() *cli.Command {
	return &cli.Command{
		Name:  "feeds",
		Usage: "Print the map markers of every egg to the command line",
		Description: `Sweep every page of registered Air Quality Eggs and print one map
marker per egg.

Bypasses the cache, useful for checking what the dashboard map will show or
for collecting all eggs by passing the output to a file.

Returns each marker as a JSON object on a single line. Use a tool like jq to
process the output.

Prints all other log messages to stderr.`,
		Flags: upstreamFlags(),
		Action: func(ctx *cli.Context) error {
			// Disable logging to stdout
			log.SetOutput(os.Stderr)

			client, err := clientFromFlags(ctx)
			if err != nil {
				return err
			}

			markers, err := feeds.NewAggregator(client).AllMarkers(ctx.Context)
			if err != nil {
				return err
			}
			for _, marker := range markers {
				printStdout(marker)
			}
			log.Infof("Printed %d eggs", len(markers))
			return nil
		},
	}
}

func recentCmd() *cli.Command {
	return &cli.Command{
		Name:  "recent",
		Usage: "Print the recently updated eggs to the command line",
		Description: `Fetch one page of recently updated Air Quality Eggs in the given
order and print one feed per line as JSON.

Prints all other log messages to stderr.`,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "order",
				Aliases: []string{"o"},
				Value:   "desc",
				Usage:   fmt.Sprintf("Listing order, one of %v", feeds.RecentOrders),
			},
		}, upstreamFlags()...),
		Action: func(ctx *cli.Context) error {
			log.SetOutput(os.Stderr)

			order := ctx.String("order")
			if !feeds.ValidOrder(order) {
				return fmt.Errorf("unknown order %q", order)
			}

			client, err := clientFromFlags(ctx)
			if err != nil {
				return err
			}

			recent, err := feeds.NewAggregator(client).Recent(ctx.Context, order)
			if err != nil {
				return err
			}
			for _, feed := range recent {
				printStdout(feed)
			}
			return nil
		},
	}
}

// Print as single JSON string on a single line
func printStdout(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Warn("Could not encode output")
		return
	}
	fmt.Println(string(data))
}
