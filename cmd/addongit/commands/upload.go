package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/addongit/internal/catalog"
	"github.com/Sumatoshi-tech/addongit/internal/observability"
)

// ErrVersionRequired is returned when upload is called without --version.
var ErrVersionRequired = errors.New("--version is required")

type uploadFlags struct {
	number          string
	channel         string
	name            string
	addonType       string
	uploaderID      int64
	uploaderEmail   string
	notWebExtension bool
}

// uploadResult is what upload prints.
type uploadResult struct {
	Version catalog.Version `json:"version"`
	Queued  bool            `json:"queued"`
}

func newUploadCommand(opts *Options) *cobra.Command {
	flags := &uploadFlags{}

	cmd := &cobra.Command{
		Use:   "upload <addon-id> <package>",
		Short: "Register an uploaded package and queue it for extraction",
		Long: `Register a package file as a new version of an add-on. The add-on is
created when unknown. Web extensions of add-ons that require extraction are
queued; run "addongit extract" to commit them.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(opts.Output); err != nil {
				return err
			}

			addonID, err := parseAddonID(args[0])
			if err != nil {
				return err
			}

			if flags.number == "" {
				return ErrVersionRequired
			}

			return withApp(cmd.Context(), opts, observability.ModeCLI, func(a *app) error {
				result, err := runUpload(cmd, a, addonID, args[1], flags)
				if err != nil {
					return err
				}

				return printUpload(newPrinter(cmd.OutOrStdout(), opts.Output), result)
			})
		},
	}

	cmd.Flags().StringVar(&flags.number, "version", "", "version number")
	cmd.Flags().StringVar(&flags.channel, "channel", string(catalog.ChannelListed), "release channel: listed or unlisted")
	cmd.Flags().StringVar(&flags.name, "name", "", "add-on name, stored when the add-on is new or the flag is set")
	cmd.Flags().StringVar(&flags.addonType, "type", string(catalog.AddonTypeExtension), "add-on type, stored when the add-on is new or the flag is set")
	cmd.Flags().Int64Var(&flags.uploaderID, "uploader-id", 0, "id of the uploading user")
	cmd.Flags().StringVar(&flags.uploaderEmail, "uploader-email", "", "email of the uploading user")
	cmd.Flags().BoolVar(&flags.notWebExtension, "not-webextension", false, "the package is not a web extension")

	return cmd
}

func runUpload(cmd *cobra.Command, a *app, addonID int64, pkg string, flags *uploadFlags) (uploadResult, error) {
	ctx := observability.WithAddon(cmd.Context(), addonID)

	channel, err := catalog.ParseChannel(flags.channel)
	if err != nil {
		return uploadResult{}, err
	}

	path, err := filepath.Abs(pkg)
	if err != nil {
		return uploadResult{}, err
	}

	if _, err := os.Stat(path); err != nil {
		return uploadResult{}, fmt.Errorf("package: %w", err)
	}

	addon, err := storedAddon(ctx, cmd, a, addonID, flags)
	if err != nil {
		return uploadResult{}, err
	}

	version := catalog.Version{
		AddonID: addonID,
		Number:  flags.number,
		Channel: channel,
		File: catalog.File{
			Filename:       filepath.Base(path),
			Path:           path,
			IsWebExtension: !flags.notWebExtension,
		},
	}

	if flags.uploaderID > 0 {
		version.UploadedBy = &catalog.User{ID: flags.uploaderID, Email: flags.uploaderEmail}
	}

	version, err = a.catalog.CreateVersion(ctx, version)
	if err != nil {
		return uploadResult{}, err
	}

	result := uploadResult{Version: version}

	if addon.Type.RequiresExtraction() && version.File.IsWebExtension {
		if _, err := a.queue.Enqueue(ctx, addonID); err != nil {
			return uploadResult{}, err
		}

		result.Queued = true
	}

	a.logger.InfoContext(ctx, "registered version", "version_id", version.ID, "queued", result.Queued)

	return result, nil
}

// storedAddon returns the add-on an upload belongs to, creating it when
// unknown. Only the attributes whose flags were set overwrite stored ones.
func storedAddon(
	ctx context.Context, cmd *cobra.Command, a *app, addonID int64, flags *uploadFlags,
) (catalog.Addon, error) {
	addon, err := a.catalog.GetAddon(ctx, addonID)

	switch {
	case errors.Is(err, catalog.ErrNotFound):
		addon = catalog.Addon{ID: addonID, Name: flags.name, Type: catalog.AddonType(flags.addonType)}
	case err != nil:
		return catalog.Addon{}, err
	case !cmd.Flags().Changed("name") && !cmd.Flags().Changed("type"):
		return addon, nil
	default:
		if cmd.Flags().Changed("name") {
			addon.Name = flags.name
		}

		if cmd.Flags().Changed("type") {
			addon.Type = catalog.AddonType(flags.addonType)
		}
	}

	if err := a.catalog.PutAddon(ctx, addon); err != nil {
		return catalog.Addon{}, err
	}

	return addon, nil
}

func printUpload(p *printer, result uploadResult) error {
	v := result.Version

	return p.table(result, table.Row{"Field", "Value"}, []table.Row{
		{"Version ID", v.ID},
		{"Add-on", v.AddonID},
		{"Version", v.Number},
		{"Channel", v.Channel},
		{"Package", v.File.Filename},
		{"Queued", result.Queued},
	})
}
