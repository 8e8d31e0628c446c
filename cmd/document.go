package main

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dealdesk/internal/model"
)

var documentType string

var documentCmd = &cobra.Command{
	Use:   "document",
	Short: "Upload and inspect deal documents",
}

var documentUploadCmd = &cobra.Command{
	Use:   "upload <deal-id> <file>",
	Short: "Upload a document and process it in the foreground",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := os.Open(args[1])
		if err != nil {
			return eris.Wrapf(err, "open %s", args[1])
		}
		defer f.Close() //nolint:errcheck

		doc, err := env.Documents.Upload(cmd.Context(), args[0], filepath.Base(args[1]), model.DocumentType(documentType), f)
		if err != nil {
			return err
		}
		if err := env.Documents.Process(cmd.Context(), doc.ID); err != nil {
			return err
		}

		fields, err := env.Documents.Fields(cmd.Context(), doc.ID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"document_id": doc.ID, "fields": fields})
	},
}

var documentQuickExtractCmd = &cobra.Command{
	Use:   "quick-extract <file>",
	Short: "Read basic deal info from the first pages of a document without storing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrapf(err, "open %s", args[0])
		}
		defer f.Close() //nolint:errcheck

		info, err := env.Documents.QuickExtract(cmd.Context(), filepath.Base(args[0]), f)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), info)
	},
}

func init() {
	documentUploadCmd.Flags().StringVar(&documentType, "type", string(model.DocumentOfferingMemorandum), "document type (offering_memorandum, rent_roll, t12, other)")
	documentCmd.AddCommand(documentUploadCmd, documentQuickExtractCmd)
	rootCmd.AddCommand(documentCmd)
}
