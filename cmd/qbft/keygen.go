package main

import (
	"github.com/spf13/cobra"

	"github.com/sig-0/go-qbft/keys"
)

func newKeygenCmd() *cobra.Command {
	var n int

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate validator keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for range n {
				k, err := keys.Generate()
				if err != nil {
					return err
				}

				cmd.Printf("%s %s\n", k.Address(), k.Hex())
			}

			return nil
		},
	}

	cmd.Flags().IntVarP(&n, "count", "n", 1, "number of keys")

	return cmd
}
