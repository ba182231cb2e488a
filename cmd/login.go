package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/court-scheduler/internal/config"
	"github.com/example/court-scheduler/internal/credential"
	"github.com/example/court-scheduler/internal/crypto"
	"github.com/example/court-scheduler/internal/logger"
	"github.com/example/court-scheduler/internal/venue"
)

// login imports the cookie blob captured from a browser session on the
// portal. The browser does the actual login; this command just verifies,
// seals and stores what it produced.
func newLoginCmd() *cobra.Command {
	var (
		cookies     string
		cookiesFile string
		noVerify    bool
	)

	c := &cobra.Command{
		Use:   "login",
		Short: "Import portal session cookies captured from a browser login",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Logger.Level, cfg.Logger.Encoding)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if cookiesFile != "" {
				b, err := os.ReadFile(cookiesFile)
				if err != nil {
					return err
				}
				cookies = strings.TrimSpace(string(b))
			}
			if cookies == "" {
				return fmt.Errorf("--cookies or --cookies-file required")
			}

			cred := credential.Credential{Cookies: cookies, AcquiredAt: time.Now()}
			if exp, err := credential.ExpiryFromCookies(cookies); err == nil {
				cred.ExpiresAt = exp
				fmt.Fprintf(os.Stdout, "session expires %s\n", exp.Format(time.RFC3339))
			} else {
				log.Warnw("could not read expiry from cookies", "err", err)
			}
			if cred.Expired(time.Now()) {
				return fmt.Errorf("captured session already expired at %s", cred.ExpiresAt.Format(time.RFC3339))
			}

			if !noVerify {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				vc := venue.New(cfg.Booking.BaseURL, cfg.Booking.Timeout, log)
				if err := vc.CheckSession(ctx, cred); err != nil {
					return fmt.Errorf("session check failed: %w (use --no-verify to store anyway)", err)
				}
				fmt.Fprintln(os.Stdout, "session verified against portal")
			}

			var aead *crypto.AEAD
			if key, err := cfg.Credentials.AEADKey(); err != nil {
				return err
			} else if key != nil {
				if aead, err = crypto.New(key); err != nil {
					return err
				}
			}
			src := &credential.FileSource{Path: cfg.Credentials.File, AEAD: aead, Log: log}
			if err := src.Save(cookies, cred.AcquiredAt); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "credentials written to %s\n", cfg.Credentials.File)
			return nil
		},
	}

	c.Flags().StringVar(&cookies, "cookies", "", "raw Cookie header value from the authenticated browser session")
	c.Flags().StringVar(&cookiesFile, "cookies-file", "", "file containing the raw Cookie header value")
	c.Flags().BoolVar(&noVerify, "no-verify", false, "skip the portal session check")
	return c
}
