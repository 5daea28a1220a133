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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/avasales/engage/internal/assembler"
	"github.com/avasales/engage/internal/credential"
	"github.com/avasales/engage/internal/dedup"
	"github.com/avasales/engage/internal/metrics"
	"github.com/avasales/engage/internal/objection"
	"github.com/avasales/engage/internal/outreach"
	"github.com/avasales/engage/internal/session"
)

func reachCmd() *cobra.Command {
	var (
		location string
		contacts string
		file     string
		rate     float64
	)

	cmd := &cobra.Command{
		Use:   "reach",
		Short: "Send the first automated message to a list of contacts",
		Long: "Engages each contact as if the lead had just arrived: eligibility is checked, " +
			"a reply is generated from the conversation so far and sent on the contact's channel.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := splitList(contacts)
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read contacts file: %w", err)
				}
				ids = append(ids, splitList(string(data))...)
			}
			if len(ids) == 0 {
				return fmt.Errorf("no contacts given; use --contacts or --file")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runReach(ctx, location, ids, rate)
		},
	}

	cmd.Flags().StringVar(&location, "location", "", "location id or alias (required)")
	cmd.Flags().StringVar(&contacts, "contacts", "", "comma-separated contact ids")
	cmd.Flags().StringVar(&file, "file", "", "file with one contact id per line")
	cmd.Flags().Float64Var(&rate, "rate", 0, "engagements per second (default from config)")
	cmd.MarkFlagRequired("location")
	return cmd
}

func runReach(ctx context.Context, locationRef string, contactIDs []string, rate float64) error {
	cfg, pool, err := openPostgres(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	loc, ok := cfg.Location(locationRef)
	if !ok {
		return fmt.Errorf("location %q not found in configuration", locationRef)
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	credStore, err := credential.NewStore(ctx, pool)
	if err != nil {
		return err
	}

	llmClient := session.NewLLM(cfg)
	deps := session.Deps{
		Tokens:    credStore,
		Generator: llmClient,
		Geocoder:  assembler.NewOpenMeteo(cfg.GeocodeURL),
	}
	if rec, err := metrics.NewRecorder(metrics.Meter()); err == nil {
		deps.Metrics = rec
	}
	if cfg.Objections.Enabled {
		store, err := objection.NewStore(ctx, pool, llmClient)
		if err != nil {
			return err
		}
		deps.Augmenter = objection.NewAugmenter(llmClient, store, objection.Config{
			Threshold: &cfg.Objections.Threshold,
			TopK:      cfg.Objections.TopK,
		})
	}

	orch, err := session.Build(ctx, cfg, loc, deps)
	if err != nil {
		return err
	}

	if rate <= 0 {
		rate = cfg.OutreachRate
	}
	runner := outreach.NewRunner(outreach.RunnerConfig{
		Engager:   orch,
		Locker:    dedup.NewLocker(rdb, dedup.LockerConfig{TTL: cfg.LockTTL, Wait: cfg.LockWait}),
		PerSecond: rate,
	})

	result, err := runner.Run(ctx, outreach.Request{LocationID: loc.ID, ContactIDs: contactIDs})
	if result != nil {
		for _, cr := range result.Contacts {
			fmt.Printf("%s\t%s\t%s\n", cr.ContactID, cr.Outcome, cr.Reason)
		}
	}
	if err != nil {
		return fmt.Errorf("outreach interrupted: %w", err)
	}
	if result.Failed > 0 {
		return fmt.Errorf("%d of %d contacts failed", result.Failed, len(result.Contacts))
	}
	return nil
}
