// packplan-seed loads item inventory into PostgreSQL, computing the
// precomputed shuffle key every item carries. Selection depends on these
// keys being stable, so they are derived from the item id alone.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"packplan/internal/contract"
	"packplan/internal/store"
	"packplan/internal/store/postgres"
)

type seedItem struct {
	ID          string          `json:"id"`
	Content     string          `json:"content"`
	Answer      string          `json:"answer"`
	Explanation string          `json:"explanation"`
	Difficulty  string          `json:"difficulty"`
	Tier        string          `json:"frequency_tier"`
	Topic       string          `json:"topic"`
	ItemType    string          `json:"item_type"`
	Choices     json.RawMessage `json:"choices"`
	ConceptTags json.RawMessage `json:"concept_tags"`
	Eligible    *bool           `json:"eligible"`
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:          "packplan-seed",
		Short:        "Load practice item inventory into the planning database",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v.GetString("database-url"), v.GetString("file"))
		},
	}

	flags := cmd.Flags()
	flags.String("database-url", "", "PostgreSQL connection URL")
	flags.String("file", "", "JSON file holding an array of items")

	v.SetEnvPrefix("PACKPLAN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)

	return cmd
}

func run(ctx context.Context, databaseURL, file string) error {
	if databaseURL == "" {
		return fmt.Errorf("a database URL is required")
	}
	if file == "" {
		return fmt.Errorf("an input file is required")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	var items []seedItem
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("parse %s: %w", file, err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	pg := postgres.New(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	for i, item := range items {
		rec, err := toRecord(item)
		if err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
		if err := pg.UpsertItem(ctx, rec); err != nil {
			return fmt.Errorf("upsert %s: %w", rec.ID, err)
		}
	}

	fmt.Printf("Seeded %d items\n", len(items))
	return nil
}

func toRecord(item seedItem) (store.ItemRecord, error) {
	if item.ID == "" {
		return store.ItemRecord{}, fmt.Errorf("missing id")
	}

	band := contract.DifficultyBand(item.Difficulty)
	switch band {
	case contract.BandEasy, contract.BandMedium, contract.BandHard:
	default:
		return store.ItemRecord{}, fmt.Errorf("unknown difficulty %q", item.Difficulty)
	}

	tier := contract.FrequencyTier(item.Tier)
	switch tier {
	case contract.TierTop, contract.TierHigh, contract.TierMid, contract.TierLow:
	default:
		return store.ItemRecord{}, fmt.Errorf("unknown frequency tier %q", item.Tier)
	}

	eligible := true
	if item.Eligible != nil {
		eligible = *item.Eligible
	}

	return store.ItemRecord{
		ID:          item.ID,
		Content:     item.Content,
		Answer:      item.Answer,
		Explanation: item.Explanation,
		Band:        band,
		Tier:        tier,
		Topic:       item.Topic,
		ItemType:    item.ItemType,
		RawChoices:  item.Choices,
		RawTags:     item.ConceptTags,
		ShuffleKey:  xxhash.Sum64String(item.ID) % store.ShuffleKeySpace,
		Eligible:    eligible,
	}, nil
}
