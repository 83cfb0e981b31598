// Maintenance commands operating directly on the data directory.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"text/tabwriter"

	"github.com/invopop/jsonschema"
	"github.com/maruel/ksid"
	"github.com/nb-music/server/internal/docstore"
	"github.com/nb-music/server/internal/storage"
	"github.com/nb-music/server/internal/storage/history"
	"github.com/nb-music/server/internal/storage/identity"
	"github.com/nb-music/server/internal/storage/library"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var (
	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Check that every document in the data directory decodes",
		Args:  cobra.NoArgs,
		RunE:  runVerify,
	}

	schemaCmd = &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of every collection",
		Args:  cobra.NoArgs,
		RunE:  runSchema,
	}

	seedCmd = &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Import mappings from a YAML seed file",
		Long: `Import mappings from a YAML seed file. Videos that are already mapped are
skipped, so seeding twice is harmless.`,
		Args: cobra.ExactArgs(1),
		RunE: runSeed,
	}

	historyCmd = &cobra.Command{
		Use:   "history [collection]",
		Short: "Show the change history of the data directory or of one collection",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
)

func init() {
	seedCmd.Flags().Bool("history", true, "Commit the imported mappings to git")
	historyCmd.Flags().IntP("limit", "n", 20, "Number of commits to show")
	historyCmd.Flags().String("show", "", "Print the collection as of this commit hash (or HEAD)")
}

// collections are the documents the server knows about.
var collections = []string{
	library.MappingsKey,
	library.PlaylistsKey,
	library.PlayRecordsKey,
	identity.SessionsKey,
	storage.ConfigKey,
}

func runVerify(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	store, err := openStore()
	if err != nil {
		return err
	}
	keys, err := store.List()
	if err != nil {
		return err
	}
	for _, k := range collections {
		if !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	statuses := make([]docstore.Status, len(keys))
	eg, ctx := errgroup.WithContext(ctx)
	for i, k := range keys {
		eg.Go(func() error {
			st, err := store.Stat(ctx, k)
			statuses[i] = st
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tSTATUS\tSIZE")
	bad := 0
	for _, st := range statuses {
		status := "ok"
		switch {
		case !st.Exists:
			status = "missing"
		case st.Err != nil:
			status = "corrupt: " + st.Err.Error()
			bad++
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", st.Key, status, st.Size)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if bad > 0 {
		return fmt.Errorf("%d corrupt document(s)", bad)
	}
	return nil
}

// collectionSchemas describes the on-disk layout of each collection.
func collectionSchemas() map[string]*jsonschema.Schema {
	r := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == reflect.TypeFor[ksid.ID]() {
				return &jsonschema.Schema{Type: "string", Description: "Sortable unique identifier"}
			}
			return nil
		},
	}
	list := func(v any) *jsonschema.Schema {
		return &jsonschema.Schema{Type: "array", Items: r.Reflect(v)}
	}
	return map[string]*jsonschema.Schema{
		library.MappingsKey:    list(&library.Mapping{}),
		library.PlaylistsKey:   list(&library.Playlist{}),
		library.PlayRecordsKey: list(&library.PlayRecord{}),
		identity.SessionsKey:   {Type: "object", AdditionalProperties: r.Reflect(&identity.Session{}), Description: "Sessions keyed by session token"},
		storage.ConfigKey:      r.Reflect(&storage.ServerConfig{}),
	}
}

func runSchema(cmd *cobra.Command, _ []string) error {
	e := json.NewEncoder(cmd.OutOrStdout())
	e.SetIndent("", "  ")
	e.SetEscapeHTML(false)
	return e.Encode(collectionSchemas())
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	seed, err := library.ParseSeed(args[0])
	if err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	added, err := library.NewMappingService(store).Import(ctx, seed.ToMappings())
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d mappings\n", added, len(seed.Mappings))
	if added == 0 || !viper.GetBool("history") {
		return nil
	}
	repo, err := history.Open(ctx, store.Dir(), "", "")
	if err != nil {
		return err
	}
	return repo.CommitFiles(ctx, history.Author{}, fmt.Sprintf("seed: import %d mappings", added), library.MappingsKey+".json")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := openStore()
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), ".git")); err != nil {
		return errors.New("the data directory has no history; run serve with --history first")
	}
	repo, err := history.Open(ctx, store.Dir(), "", "")
	if err != nil {
		return err
	}
	path := ""
	if len(args) == 1 {
		if path, err = store.Path(args[0]); err != nil {
			return err
		}
		if path, err = filepath.Rel(store.Dir(), path); err != nil {
			return err
		}
	}
	out := cmd.OutOrStdout()
	if hash := viper.GetString("show"); hash != "" {
		if path == "" {
			return errors.New("--show requires a collection")
		}
		data, err := repo.GetFileAtCommit(ctx, hash, path)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}
	commits, err := repo.GetHistory(ctx, path, viper.GetInt("limit"))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, c := range commits {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Hash[:10], c.AuthorDate.Format("2006-01-02 15:04"), c.Author, c.Message)
	}
	return w.Flush()
}
