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

	"github.com/spf13/cobra"

	"github.com/avasales/engage/internal/objection"
	"github.com/avasales/engage/internal/session"
)

func seedObjectionsCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed-objections",
		Short: "Embed and store objection/rebuttal examples",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := openPostgres(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if file == "" {
				file = cfg.Objections.SeedPath
			}
			if file == "" {
				return fmt.Errorf("no seed file; use --file or objections.seed_path")
			}

			examples, err := objection.LoadExamples(file)
			if err != nil {
				return err
			}

			store, err := objection.NewStore(ctx, pool, session.NewLLM(cfg))
			if err != nil {
				return err
			}
			n, err := store.Seed(ctx, examples)
			fmt.Printf("seeded %d of %d examples from %s\n", n, len(examples), file)
			return err
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "YAML seed file (default objections.seed_path)")
	return cmd
}
