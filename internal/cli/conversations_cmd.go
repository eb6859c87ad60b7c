// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/morganforge/finchat/internal/export"
	"github.com/morganforge/finchat/internal/model"
	"github.com/morganforge/finchat/internal/storage"
)

// openConversations loads the persisted conversation list.
func openConversations(ctx context.Context, app *App) (*storage.ConversationStore, error) {
	store := storage.NewConversationStore(app.KV, app.Logger)
	if err := store.Load(ctx); err != nil {
		return nil, errors.Wrap(err, "load conversations")
	}
	return store, nil
}

// conversationRow is the listing shape used for both table and JSON output.
type conversationRow struct {
	Index        int       `json:"index"`
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Messages     int       `json:"messages"`
	LastActivity time.Time `json:"lastActivity"`
	Current      bool      `json:"current"`
}

func conversationRows(snap storage.Snapshot) []conversationRow {
	rows := make([]conversationRow, 0, len(snap.Conversations))
	for i, c := range snap.Conversations {
		rows = append(rows, conversationRow{
			Index:        i + 1,
			ID:           c.ID,
			Title:        c.Title,
			Messages:     c.MessageCount(),
			LastActivity: c.LastActivity(),
			Current:      c.ID == snap.CurrentID,
		})
	}
	return rows
}

// renderConversationTable writes one line per conversation. Titles are cut
// by display width so wide characters keep the columns aligned.
func renderConversationTable(w io.Writer, rows []conversationRow, width int) {
	titleWidth := width - 30
	if titleWidth < 12 {
		titleWidth = 12
	}
	for _, r := range rows {
		marker := " "
		if r.Current {
			marker = SuccessStyle.Render("*")
		}
		title := runewidth.Truncate(r.Title, titleWidth, "…")
		title = runewidth.FillRight(title, titleWidth)
		when := "-"
		if !r.LastActivity.IsZero() {
			when = r.LastActivity.Local().Format("Jan 02 15:04")
		}
		fmt.Fprintf(w, "%s %3d  %s  %s  %s\n",
			marker, r.Index, ValueStyle.Render(title),
			DimStyle.Render(fmt.Sprintf("%3d msgs", r.Messages)), DimStyle.Render(when))
	}
}

// resolveConversation accepts a 1-based list index or a conversation id
// (a unique prefix is enough).
func resolveConversation(snap storage.Snapshot, ref string) (model.Conversation, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return model.Conversation{}, errors.New("no conversation given")
	}
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(snap.Conversations) {
			return model.Conversation{}, errors.Errorf("no conversation #%d (have %d)", n, len(snap.Conversations))
		}
		return snap.Conversations[n-1], nil
	}

	var match *model.Conversation
	for i := range snap.Conversations {
		c := &snap.Conversations[i]
		if c.ID == ref {
			return *c, nil
		}
		if strings.HasPrefix(c.ID, ref) {
			if match != nil {
				return model.Conversation{}, errors.Errorf("conversation id %q is ambiguous", ref)
			}
			match = c
		}
	}
	if match == nil {
		return model.Conversation{}, errors.Wrapf(storage.ErrConversationNotFound, "%q", ref)
	}
	return *match, nil
}

func newConversationsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage saved conversations",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.App()
			if err != nil {
				return err
			}
			store, err := openConversations(cmd.Context(), app)
			if err != nil {
				return err
			}
			rows := conversationRows(store.Snapshot())
			if ok, err := opts.printJSON("conversations list", rows, ""); ok {
				return err
			}
			renderConversationTable(opts.stdout, rows, GetTerminalWidth())
			return nil
		},
	}

	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Start a new conversation and select it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.App()
			if err != nil {
				return err
			}
			store, err := openConversations(cmd.Context(), app)
			if err != nil {
				return err
			}
			id := store.NewConversation()
			if err := store.PersistError(); err != nil {
				return err
			}
			if ok, err := opts.printJSON("conversations new", map[string]string{"id": id}, ""); ok {
				return err
			}
			fmt.Fprintf(opts.stdout, "%s Started conversation %s\n", SuccessStyle.Render("✓"), id)
			return nil
		},
	}

	selectCmd := &cobra.Command{
		Use:   "select <index|id>",
		Short: "Select the conversation chat continues in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.App()
			if err != nil {
				return err
			}
			store, err := openConversations(cmd.Context(), app)
			if err != nil {
				return err
			}
			conv, err := resolveConversation(store.Snapshot(), args[0])
			if err != nil {
				return err
			}
			if err := store.Select(conv.ID); err != nil {
				return err
			}
			if err := store.PersistError(); err != nil {
				return err
			}
			if ok, err := opts.printJSON("conversations select", map[string]string{"id": conv.ID}, ""); ok {
				return err
			}
			fmt.Fprintf(opts.stdout, "Selected %q\n", conv.Title)
			return nil
		},
	}

	var format, outDir string
	exportCmd := &cobra.Command{
		Use:   "export [index|id]",
		Short: "Write a conversation to a Markdown, JSON or HTML file",
		Example: `  finchat conversations export
  finchat conversations export 2 --format html --output ~/Documents`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.App()
			if err != nil {
				return err
			}
			store, err := openConversations(cmd.Context(), app)
			if err != nil {
				return err
			}
			conv := store.Current()
			if len(args) == 1 {
				if conv, err = resolveConversation(store.Snapshot(), args[0]); err != nil {
					return err
				}
			}

			exportOpts := export.DefaultOptions()
			exportOpts.OutputDir = outDir
			exportOpts.Dark = app.Theme.IsDark(cmd.Context())
			exporter, err := export.ForFormat(format, exportOpts)
			if err != nil {
				return err
			}
			path, err := export.ToFile(conv, exporter, exportOpts)
			if err != nil {
				return err
			}
			if ok, err := opts.printJSON("conversations export", map[string]string{"id": conv.ID, "path": path}, ""); ok {
				return err
			}
			fmt.Fprintf(opts.stdout, "%s Exported %q to %s\n", SuccessStyle.Render("✓"), conv.Title, path)
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&format, "format", "f", "md", "Output format: md, json or html")
	exportCmd.Flags().StringVarP(&outDir, "output", "o", ".", "Directory to write to")

	cmd.AddCommand(list, newCmd, selectCmd, exportCmd)
	return cmd
}
