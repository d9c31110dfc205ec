package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/alcovehq/alcove/internal/collection"
	"github.com/alcovehq/alcove/internal/config"
	"github.com/alcovehq/alcove/internal/database"
	"github.com/alcovehq/alcove/internal/identifier"
	"github.com/alcovehq/alcove/internal/item"
	"github.com/alcovehq/alcove/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type services struct {
	logger      *zap.Logger
	collections *collection.Service
	items       *item.Service
	close       func() error
}

func openServices() (*services, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	idProvider := identifier.NewUUIDProvider()

	collectionService, err := collection.NewService(collection.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	itemService, err := item.NewService(item.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &services{
		logger:      logger,
		collections: collectionService,
		items:       itemService,
		close:       sqlDB.Close,
	}, nil
}

// importEntry is the JSON shape of one record in an import file.
type importEntry struct {
	ExternalID      string                 `json:"external_id,omitempty"`
	Type            string                 `json:"type,omitempty"`
	Title           string                 `json:"title"`
	Content         *string                `json:"content,omitempty"`
	RawContent      *string                `json:"raw_content,omitempty"`
	MarkdownContent *string                `json:"markdown_content,omitempty"`
	URL             string                 `json:"url,omitempty"`
	FilePath        string                 `json:"file_path,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Tags            []string               `json:"tags,omitempty"`
	IsFavorite      *bool                  `json:"is_favorite,omitempty"`
	IsRead          *bool                  `json:"is_read,omitempty"`
	ShouldFollow    *bool                  `json:"should_follow,omitempty"`
	CollectionIDs   []string               `json:"collection_ids,omitempty"`
}

func newImportCommand() *cobra.Command {
	var ownerID string
	var workspaceID string

	cmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Bulk-import items into a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openServices()
			if err != nil {
				return err
			}
			defer svc.close()       //nolint:errcheck
			defer svc.logger.Sync() //nolint:errcheck

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var entries []importEntry
			if err := json.Unmarshal(raw, &entries); err != nil {
				return fmt.Errorf("parse import file: %w", err)
			}

			incoming := make([]item.IncomingItem, 0, len(entries))
			for _, entry := range entries {
				incoming = append(incoming, item.IncomingItem{
					ExternalID:      entry.ExternalID,
					Type:            item.Type(entry.Type),
					Title:           entry.Title,
					Content:         entry.Content,
					RawContent:      entry.RawContent,
					MarkdownContent: entry.MarkdownContent,
					URL:             entry.URL,
					FilePath:        entry.FilePath,
					Metadata:        entry.Metadata,
					Tags:            entry.Tags,
					IsFavorite:      entry.IsFavorite,
					IsRead:          entry.IsRead,
					ShouldFollow:    entry.ShouldFollow,
					CollectionIDs:   entry.CollectionIDs,
				})
			}

			result, err := svc.items.BulkCreateOrUpdate(cmd.Context(), ownerID, workspaceID, incoming)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created: %d\nupdated: %d\nerrors: %d\n",
				len(result.Created), len(result.Updated), len(result.Errors))
			for _, syncErr := range result.Errors {
				label := syncErr.Title
				if syncErr.ExternalID != "" {
					label = fmt.Sprintf("%s (%s)", label, syncErr.ExternalID)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", strings.TrimSpace(label), syncErr.Message)
			}
			if result.TransactionFailed {
				return fmt.Errorf("import rolled back: %s", result.Errors[0].Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerID, "owner", "", "Owner identifier (required)")
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "Workspace identifier (required)")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("workspace")
	return cmd
}

func newTreeCommand() *cobra.Command {
	var ownerID string
	var workspaceID string

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print a workspace's collection tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openServices()
			if err != nil {
				return err
			}
			defer svc.close()       //nolint:errcheck
			defer svc.logger.Sync() //nolint:errcheck

			roots, err := svc.collections.Tree(cmd.Context(), ownerID, workspaceID)
			if err != nil {
				return err
			}
			printTree(cmd, roots, 0)
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerID, "owner", "", "Owner identifier (required)")
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "Workspace identifier (required)")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("workspace")
	return cmd
}

func printTree(cmd *cobra.Command, nodes []*collection.TreeNode, depth int) {
	for _, node := range nodes {
		fmt.Fprintf(cmd.OutOrStdout(), "%s%s (%d) %s\n",
			strings.Repeat("  ", depth), node.Name, node.SortOrder, node.ID)
		printTree(cmd, node.Children, depth+1)
	}
}
