package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/court-scheduler/internal/auth"
)

func newPasswdCmd() *cobra.Command {
	var password string
	c := &cobra.Command{
		Use:   "passwd",
		Short: "Hash the operator password for auth.password_hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				return fmt.Errorf("--password required")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "auth:\n  password_hash: %s\n", hash)
			return nil
		},
	}
	c.Flags().StringVar(&password, "password", "", "operator password to hash")
	_ = c.MarkFlagRequired("password")
	return c
}
