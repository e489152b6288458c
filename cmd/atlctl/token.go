package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lzjever/mbos-atl/internal/auth"
)

var (
	tokenSecret  string
	tokenSubject string
	tokenTenant  string
	tokenCaps    string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Capability token commands",
}

var tokenMintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Mint a capability token",
	Run: func(cmd *cobra.Command, args []string) {
		secret := tokenSecret
		if secret == "" {
			secret = os.Getenv("ATL_AUTH_SECRET")
		}
		if secret == "" {
			fmt.Fprintf(os.Stderr, "Error: --secret or ATL_AUTH_SECRET required\n")
			os.Exit(1)
		}

		var caps []auth.Capability
		for _, c := range strings.Split(tokenCaps, ",") {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			switch auth.Capability(c) {
			case auth.CapWrite, auth.CapRead, auth.CapAdmin, auth.CapRetention:
				caps = append(caps, auth.Capability(c))
			default:
				fmt.Fprintf(os.Stderr, "Error: unknown capability %q\n", c)
				os.Exit(1)
			}
		}
		if len(caps) == 0 {
			fmt.Fprintf(os.Stderr, "Error: at least one capability required\n")
			os.Exit(1)
		}

		signed, err := auth.Sign([]byte(secret), tokenSubject, tokenTenant, caps, tokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(signed)
	},
}

func init() {
	tokenMintCmd.Flags().StringVar(&tokenSecret, "secret", "", "Signing secret (defaults to ATL_AUTH_SECRET)")
	tokenMintCmd.Flags().StringVar(&tokenSubject, "subject", "atlctl", "Token subject")
	tokenMintCmd.Flags().StringVar(&tokenTenant, "tenant", "", "Tenant scope")
	tokenMintCmd.Flags().StringVar(&tokenCaps, "caps", "read", "Comma-separated capabilities (write,read,admin,retention)")
	tokenMintCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")

	tokenCmd.AddCommand(tokenMintCmd)
	rootCmd.AddCommand(tokenCmd)
}
