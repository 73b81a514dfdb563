package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/bulwark/adapters/hasher"
)

var hashCost int

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [token]",
	Short: "Hash an admin bearer token for admin.token_hash",
	Long: `Print the bcrypt hash of an admin bearer token.

Put the output in admin.token_hash (or BULWARK_ADMIN_TOKEN_HASH) and send
the token itself as "Authorization: Bearer <token>" on admin requests.
When no argument is given the token is read from stdin.

Examples:
  bulwark hash-token "$(openssl rand -hex 32)"
  echo -n "$ADMIN_TOKEN" | bulwark hash-token`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHashToken,
}

func init() {
	rootCmd.AddCommand(hashTokenCmd)

	hashTokenCmd.Flags().IntVar(&hashCost, "cost", bcrypt.DefaultCost, "bcrypt cost")
}

func runHashToken(cmd *cobra.Command, args []string) error {
	var token string
	if len(args) == 1 {
		token = args[0]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return errors.New("no token given")
		}
		token = strings.TrimRight(line, "\r\n")
	}
	if token == "" {
		return errors.New("token must not be empty")
	}

	hash, err := hasher.NewBcrypt(hashCost).Hash(token)
	if err != nil {
		return fmt.Errorf("hash token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(hash))
	return nil
}
