package main

import (
	"fmt"

	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newTokenCommand() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user id (development only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			if subject == "" {
				subject = appConfig.UserID
			}
			tokenIssuer, err := newTokenIssuer(appConfig)
			if err != nil {
				return err
			}
			token, expiresIn, err := tokenIssuer.IssueDeviceToken(cmd.Context(), subject, appConfig.DeviceID)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n# expires in %ds\n", token, expiresIn)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "uid", "", "User id to embed as the token subject (defaults to user.id)")
	return cmd
}
