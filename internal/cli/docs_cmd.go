// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/morganforge/finchat/internal/api"
	"github.com/morganforge/finchat/internal/logging"
	"github.com/morganforge/finchat/internal/upload"
	"github.com/morganforge/finchat/internal/util"
)

func newDocsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "docs",
		Aliases: []string{"documents", "files"},
		Short:   "Manage documents used to ground answers",
	}
	cmd.AddCommand(newDocsListCommand(opts), newDocsUploadCommand(opts), newDocsDeleteCommand(opts))
	return cmd
}

func newDocsListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List uploaded documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.App()
			if err != nil {
				return err
			}
			res, err := app.API.ListFiles(cmd.Context())
			if err != nil {
				return networkError("list documents", err)
			}
			if ok, err := opts.printJSON("docs list", res.Data, res.Error); ok {
				return err
			}
			if !res.Success {
				return resultError("list documents", res.Error, res.Status)
			}
			if len(res.Data) == 0 {
				fmt.Fprintln(opts.stdout, DimStyle.Render("No documents uploaded."))
				return nil
			}
			for _, d := range res.Data {
				when := "-"
				if !d.UploadedAt.IsZero() {
					when = d.UploadedAt.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(opts.stdout, "%s  %s  %s  %s\n",
					DimStyle.Render(d.ID),
					ValueStyle.Render(util.Ellipsize(d.Filename, 48)),
					formatSize(d.Size),
					DimStyle.Render(when))
			}
			return nil
		},
	}
}

func newDocsUploadCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload documents (PDF, Word, Excel)",
		Example: `  finchat docs upload statement.pdf
  finchat docs upload reports/*.xlsx`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.App()
			if err != nil {
				return err
			}
			if !app.API.Tokens().IsAuthenticated(cmd.Context()) {
				return authError("not signed in; run 'finchat login'")
			}
			cfg := app.Config.Upload

			queue := upload.NewQueue(app.API, upload.Options{
				MaxConcurrent: cfg.MaxConcurrent,
				Validator:     upload.NewValidator(cfg.MaxSizeBytes(), cfg.AllowedExtensions),
				RejectionTTL:  cfg.RejectionTTL(),
				Logger:        logging.Component(app.Logger, "upload"),
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			go func() {
				<-ctx.Done()
				queue.Close()
			}()

			done := make(chan struct{})
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				printUploadProgress(opts.stderr, queue.Notifications(), done, opts.jsonOut)
			}()

			rejected := 0
			var accepted []string
			for _, path := range args {
				item, err := queue.AddFile(path)
				if err != nil {
					rejected++
					if !errors.Is(err, upload.ErrUploadRejected) {
						fmt.Fprintf(opts.stderr, "%s %v\n", ErrorStyle.Render("✗"), err)
					}
					continue
				}
				accepted = append(accepted, item.ID)
			}
			queue.Wait()
			close(done)
			wg.Wait()

			items := queue.All()
			failed := rejected
			for _, id := range accepted {
				// Entries the backend refused may already have expired.
				it := queue.Get(id)
				if it == nil || it.Status != upload.StatusDone {
					failed++
				}
			}
			if opts.jsonOut {
				if err := NewJSONResponse("docs upload", items).Write(opts.stdout); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(opts.stdout, queue.Summary())
			}
			if failed > 0 {
				return errors.Errorf("%d of %d uploads did not complete", failed, len(args))
			}
			return nil
		},
	}
}

// printUploadProgress reports state changes until done is closed and the
// channel is drained.
func printUploadProgress(w io.Writer, events <-chan upload.Notification, done <-chan struct{}, quiet bool) {
	show := func(n upload.Notification) {
		if quiet {
			return
		}
		switch n.Status {
		case upload.StatusUploading:
			if n.Progress > 0 && n.Progress%25 != 0 {
				return
			}
			fmt.Fprintf(w, "%s %s %d%%\n", RenderUploadStatus(n.Status), n.Name, n.Progress)
		case upload.StatusQueued:
		default:
			line := fmt.Sprintf("%s %s", RenderUploadStatus(n.Status), n.Name)
			if n.Error != "" {
				line += ": " + n.Error
			}
			fmt.Fprintln(w, line)
		}
	}
	for {
		select {
		case n := <-events:
			show(n)
		case <-done:
			for {
				select {
				case n := <-events:
					show(n)
				default:
					return
				}
			}
		}
	}
}

func newDocsDeleteCommand(opts *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an uploaded document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.App()
			if err != nil {
				return err
			}
			ok, err := confirm(fmt.Sprintf("Delete document %s?", args[0]), yes || opts.jsonOut)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(opts.stdout, "Cancelled.")
				return nil
			}
			return reportMessage(cmd.Context(), opts, "docs delete", func(ctx context.Context) (api.Result[api.MessageData], error) {
				return app.API.DeleteFile(ctx, args[0])
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
