package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"mediapub/internal/api"
	"mediapub/internal/ipc"
)

func newPackageCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "package",
		Aliases: []string{"pkg"},
		Short:   "Inspect and manage packages",
	}
	cmd.AddCommand(newPackageListCommand(ctx))
	cmd.AddCommand(newPackageShowCommand(ctx))
	cmd.AddCommand(newPackageRetryCommand(ctx))
	cmd.AddCommand(newPackageUploadCommand(ctx))
	cmd.AddCommand(newPackagePublishCommand(ctx, true))
	cmd.AddCommand(newPackagePublishCommand(ctx, false))
	cmd.AddCommand(newPackageRemoveCommand(ctx))
	return cmd
}

func newPackageListCommand(ctx *commandContext) *cobra.Command {
	var states []string
	var platformName string
	var search string
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List packages, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.PackageList(ipc.PackageListRequest{
					States:   states,
					Platform: platformName,
					Search:   search,
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				pkgs := api.SortPackagesNewestFirst(resp.Packages)
				if jsonOutput {
					return writeJSON(cmd, pkgs)
				}
				out := cmd.OutOrStdout()
				if len(pkgs) == 0 {
					fmt.Fprintln(out, "No packages found")
					return nil
				}
				fmt.Fprintln(out, packageTable(pkgs, shouldColorize(out)))
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVarP(&states, "state", "s", nil, "Filter by state name or number (repeatable)")
	cmd.Flags().StringVarP(&platformName, "platform", "p", "", "Filter by platform")
	cmd.Flags().StringVarP(&search, "search", "q", "", "Filter by name or original path")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of packages to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output packages as JSON")
	return cmd
}

func newPackageShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show package details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.PackageDescribe(args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp.Package)
				}
				out := cmd.OutOrStdout()
				for _, line := range packageDetailLines(resp.Package, shouldColorize(out)) {
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output package as JSON")
	return cmd
}

func newPackageRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>...",
		Short: "Resume packages from their last failed transition",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RetryPackages(args)
				if err != nil {
					return err
				}
				printAccepted(cmd, "Retrying", resp.IDs)
				return nil
			})
		},
	}
}

func newPackageUploadCommand(ctx *commandContext) *cobra.Command {
	var platformName string
	cmd := &cobra.Command{
		Use:   "upload <id>...",
		Short: "Upload packages to a platform",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if platformName == "" {
				return errors.New("--platform is required")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.UploadPackages(args, platformName)
				if err != nil {
					return err
				}
				printAccepted(cmd, "Uploading to "+platformName, resp.IDs)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&platformName, "platform", "p", "", "Target platform name")
	return cmd
}

func newPackagePublishCommand(ctx *commandContext, publish bool) *cobra.Command {
	use, short, verb := "publish <id>", "Publish a ready package", "Published"
	if !publish {
		use, short, verb = "unpublish <id>", "Withdraw a published package", "Unpublished"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.PackagePublish(args[0], publish)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", verb, resp.Package.ID, resp.Package.State)
				return nil
			})
		},
	}
}

func newPackageRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>...",
		Short: "Remove packages and their remote media",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				var errs error
				out := cmd.OutOrStdout()
				for _, id := range args {
					if _, err := client.PackageRemove(id); err != nil {
						errs = multierr.Append(errs, fmt.Errorf("remove %s: %w", id, err))
						continue
					}
					fmt.Fprintf(out, "Removed %s\n", id)
				}
				return errs
			})
		},
	}
}

func printAccepted(cmd *cobra.Command, verb string, ids []string) {
	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintln(out, "No packages accepted")
		return
	}
	for _, id := range ids {
		fmt.Fprintf(out, "%s %s\n", verb, id)
	}
}
