package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/suteetoe/payroll/pkg/jwtutil"
)

// tokenCmd mints a bearer token for local development against the API
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a development access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		email, _ := cmd.Flags().GetString("email")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if userID == "" {
			return errors.New("--user is required")
		}

		conf, _, err := bootstrap()
		if err != nil {
			return err
		}

		jwt := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{
			SigningKey: conf.JWT.SigningKey,
			Issuer:     conf.JWT.Issuer,
		})
		token, err := jwt.GenerateToken(userID, email, ttl)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringP("user", "u", "", "Principal ID to put in the sub claim")
	tokenCmd.Flags().StringP("email", "e", "", "Email claim")
	tokenCmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
