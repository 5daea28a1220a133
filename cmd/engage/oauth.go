// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/avasales/engage/internal/config"
	"github.com/avasales/engage/internal/credential"
	"github.com/avasales/engage/internal/crm"
)

func oauthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oauth",
		Short: "Manage CRM OAuth credentials",
	}
	cmd.AddCommand(oauthURLCmd())
	cmd.AddCommand(oauthExchangeCmd())
	cmd.AddCommand(oauthListCmd())
	cmd.AddCommand(oauthRevokeCmd())
	return cmd
}

func oauthConfig(cfg *config.Config) *oauth2.Config {
	return crm.OAuthConfig(cfg.CRM.BaseURL, cfg.CRM.ClientID, cfg.CRM.ClientSecret, cfg.CRM.RedirectURL, cfg.CRM.Scopes)
}

func oauthURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "url",
		Short: "Print the URL that installs the app on a location",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			fmt.Println(oauthConfig(cfg).AuthCodeURL(uuid.NewString()))
			return nil
		},
	}
}

func oauthExchangeCmd() *cobra.Command {
	var code, location string

	cmd := &cobra.Command{
		Use:   "exchange",
		Short: "Exchange an authorization code and store the location's tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := openPostgres(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			tok, err := oauthConfig(cfg).Exchange(ctx, code)
			if err != nil {
				return fmt.Errorf("exchange code: %w", err)
			}

			locationID := location
			if locationID == "" {
				locationID, _ = tok.Extra("locationId").(string)
			}
			if locationID == "" {
				return fmt.Errorf("token response has no locationId; pass --location")
			}

			store, err := credential.NewStore(ctx, pool)
			if err != nil {
				return err
			}
			if err := store.Save(ctx, locationID, tok); err != nil {
				return err
			}
			if _, ok := cfg.Location(locationID); !ok {
				fmt.Fprintf(os.Stderr, "warning: location %s is not in the configuration\n", locationID)
			}
			fmt.Printf("stored credentials for location %s (expires %s)\n", locationID, tok.Expiry.Format("2006-01-02 15:04"))
			return nil
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "authorization code from the redirect (required)")
	cmd.Flags().StringVar(&location, "location", "", "location id (default from the token response)")
	cmd.MarkFlagRequired("code")
	return cmd
}

func oauthListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List locations with stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, err := openPostgres(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			store, err := credential.NewStore(ctx, pool)
			if err != nil {
				return err
			}
			records, err := store.List(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LOCATION\tUSER TYPE\tEXPIRES\tUPDATED")
			for _, r := range records {
				expires := "-"
				if r.ExpiresAt != nil {
					expires = r.ExpiresAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.LocationID, r.UserType, expires, r.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}

func oauthRevokeCmd() *cobra.Command {
	var location string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Delete the stored credentials for a location",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, err := openPostgres(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			store, err := credential.NewStore(ctx, pool)
			if err != nil {
				return err
			}
			if err := store.Delete(ctx, location); err != nil {
				return err
			}
			fmt.Printf("deleted credentials for location %s\n", location)
			return nil
		},
	}

	cmd.Flags().StringVar(&location, "location", "", "location id (required)")
	cmd.MarkFlagRequired("location")
	return cmd
}
