package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"borderwatch/internal/storage"
)

func recordsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List locally stored unknown-face records",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.NewStore(cfgMgr.Get().Storage)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			if err := store.Init(cmd.Context()); err != nil {
				return err
			}

			records, err := store.ListRecords(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no records")
				return nil
			}
			for _, rec := range records {
				fmt.Printf("%s  %s  %s  (%d bytes)\n",
					rec.ID,
					rec.DetectedAt.Format("2006-01-02 15:04:05"),
					rec.Status,
					len(rec.ImageData),
				)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of records to list")
	return cmd
}
