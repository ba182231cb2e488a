package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Generate cookie and credential-sealing keys (base64, ready for the config file)",
		RunE: func(cmd *cobra.Command, args []string) error {
			gen := func() (string, error) {
				b := make([]byte, 32)
				if _, err := rand.Read(b); err != nil {
					return "", err
				}
				return base64.StdEncoding.EncodeToString(b), nil
			}
			hash, err := gen()
			if err != nil {
				return err
			}
			block, err := gen()
			if err != nil {
				return err
			}
			sealing, err := gen()
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "auth:\n  cookie_hash_key: %s\n  cookie_block_key: %s\ncredentials:\n  key: %s\n", hash, block, sealing)
			return nil
		},
	}
}
