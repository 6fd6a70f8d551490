package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/proconnect/location"
	"github.com/c360studio/proconnect/registration"
)

func newLocationsCmd(g *globals) *cobra.Command {
	var (
		services     bool
		idTypes      bool
		countryCodes bool
		watch        bool
	)
	cmd := &cobra.Command{
		Use:   "locations [province [district [municipality]]]",
		Short: "List the options offered by the registration forms",
		Long: `Without arguments, lists the provinces. Each additional argument narrows the
listing one level: districts of a province, municipalities of a district, wards
of a municipality.

--watch keeps running and prints the listing again whenever the catalog file
named by locations.file changes.`,
		Args: cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch {
			case services:
				printList(out, registration.Services())
				return nil
			case idTypes:
				printList(out, registration.IDTypes())
				return nil
			case countryCodes:
				printList(out, registration.CountryCodes())
				return nil
			}

			return g.withApp(cmd, func(ctx context.Context, app *App) error {
				if err := printLevel(out, app.locations.Catalog(), args); err != nil {
					return err
				}
				if !watch {
					return nil
				}
				return watchCatalog(ctx, app, out, args)
			})
		},
	}
	cmd.Flags().BoolVar(&services, "services", false, "List the service categories")
	cmd.Flags().BoolVar(&idTypes, "id-types", false, "List the accepted ID document types")
	cmd.Flags().BoolVar(&countryCodes, "country-codes", false, "List the phone country codes")
	cmd.Flags().BoolVar(&watch, "watch", false, "Print the listing again when the catalog file changes")
	cmd.MarkFlagsMutuallyExclusive("services", "id-types", "country-codes", "watch")
	return cmd
}

// printLevel lists the children of the location named by path.
func printLevel(w io.Writer, c *location.Catalog, path []string) error {
	var options []string
	switch len(path) {
	case 0:
		options = c.Provinces()
	case 1:
		options = c.Districts(path[0])
	case 2:
		options = c.Municipalities(path[0], path[1])
	default:
		options = c.Wards(path[0], path[1], path[2])
	}
	if len(options) == 0 && len(path) > 0 {
		return fmt.Errorf("unknown location: %s", strings.Join(path, " / "))
	}
	printList(w, options)
	return nil
}

func printList(w io.Writer, items []string) {
	for _, it := range items {
		fmt.Fprintln(w, it)
	}
}

func watchCatalog(ctx context.Context, app *App, out io.Writer, path []string) error {
	file := app.cfg.Locations.File
	if file == "" {
		return errors.New("--watch needs locations.file in the configuration")
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := location.NewFileSource(file,
		location.WithLogger(app.logger),
		location.WithReloadHook(func(c *location.Catalog) {
			fmt.Fprintf(out, "-- %s reloaded\n", file)
			if err := printLevel(out, c, path); err != nil {
				fmt.Fprintln(out, err)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("load location catalog: %w", err)
	}
	if err := src.Watch(ctx); err != nil {
		return fmt.Errorf("watch location catalog: %w", err)
	}
	defer src.Close()

	<-ctx.Done()
	return nil
}
