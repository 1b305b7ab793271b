package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func identityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identity",
		Short: "Print this device's identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.GetOrCreate()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Device ID:  %s\n", id.ID)
			fmt.Fprintf(out, "Public key: %s\n", id.PublicKeyBase64URL())

			tok, ok, err := tokens.Load(id.ID)
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(out, "Paired:     yes (role %s)\n", tok.Role)
			} else {
				fmt.Fprintln(out, "Paired:     no device token stored")
			}
			return nil
		},
	}
}
