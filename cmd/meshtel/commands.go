package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dreadstar/orbot-meshrabiya-integration/internal/engine"
	"github.com/dreadstar/orbot-meshrabiya-integration/internal/ingest"
	"github.com/dreadstar/orbot-meshrabiya-integration/internal/logbridge"
	"github.com/dreadstar/orbot-meshrabiya-integration/internal/model"
	"github.com/dreadstar/orbot-meshrabiya-integration/internal/pkg/security"
)

// maxLineSize caps one stdin record in run mode.
const maxLineSize = 1 << 20

// withStore parses the shared flags, loads configuration and hands an open
// store to fn. The store is flushed and closed when fn returns.
func withStore(ctx context.Context, env *environment, scheduler bool, fn func(*engine.Store) error) error {
	if err := env.setup(); err != nil {
		return err
	}
	store, release, err := acquireStore(ctx, env.cfg, scheduler)
	if err != nil {
		return err
	}
	defer release()
	return fn(store)
}

func cmdRun(ctx context.Context, env *environment, args []string) error {
	fs := env.flagSet()
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withStore(ctx, env, true, func(store *engine.Store) error {
		decoder := ingest.NewDecoder()
		lines := make(chan []byte)
		scanErr := make(chan error, 1)

		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(env.stdin)
			scanner.Buffer(make([]byte, 64*1024), maxLineSize)
			for scanner.Scan() {
				line := append([]byte(nil), scanner.Bytes()...)
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			scanErr <- scanner.Err()
		}()

		log.Info().Str("data_dir", env.cfg.Store.DataDir).Msg("meshtel running, reading records from stdin")
		session := slog.New(logbridge.NewHandler(store, logbridge.Options{Category: "meshtel"}))
		session.Info("session started", "version", version)

		var ingested, rejected int
		defer func() {
			session.Info("session stopped", "ingested", ingested, "rejected", rejected)
		}()
		for {
			select {
			case <-ctx.Done():
				log.Info().Int("ingested", ingested).Int("rejected", rejected).Msg("shutting down")
				return nil
			case line, ok := <-lines:
				if !ok {
					var err error
					select {
					case err = <-scanErr:
					default:
					}
					log.Info().Int("ingested", ingested).Int("rejected", rejected).Msg("input closed")
					return err
				}
				if len(strings.TrimSpace(string(line))) == 0 {
					continue
				}
				batch, err := decoder.Decode(line)
				if err != nil {
					rejected++
					log.Warn().Err(err).Msg("rejected input line")
					continue
				}
				batch.Apply(store)
				ingested += batch.Len()
			}
		}
	})
}

func cmdLog(ctx context.Context, env *environment, args []string) error {
	fs := env.flagSet()
	level := fs.StringP("level", "l", "", "record a single entry at this level instead of reading JSON")
	category := fs.String("category", "cli", "category of the single entry")
	message := fs.StringP("message", "m", "", "message of the single entry")
	meta := fs.StringToString("meta", nil, "metadata of the single entry (key=value,...)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var batch *ingest.Batch
	if *message != "" || *level != "" {
		lvl := model.LevelBasic
		if *level != "" {
			parsed, err := model.ParseLevel(*level)
			if err != nil {
				return err
			}
			lvl = parsed
		}
		batch = &ingest.Batch{Logs: []model.LogEntry{model.NewLogEntry(lvl, *category, *message, *meta)}}
	} else {
		var input []byte
		if fs.NArg() > 0 {
			input = []byte(strings.Join(fs.Args(), " "))
		} else {
			data, err := io.ReadAll(env.stdin)
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			input = data
		}
		decoded, err := ingest.NewDecoder().Decode(input)
		if err != nil {
			return err
		}
		batch = decoded
	}

	return withStore(ctx, env, false, func(store *engine.Store) error {
		batch.Apply(store)
		fmt.Fprintf(env.stdout, "recorded %d record(s)\n", batch.Len())
		return nil
	})
}

func cmdLogs(ctx context.Context, env *environment, args []string) error {
	fs := env.flagSet()
	level := fs.StringP("level", "l", "", "read threshold (BASIC, DETAILED, FULL)")
	query := fs.StringP("query", "q", "", `filter expression, e.g. 'category:mesh AND level:BASIC'`)
	asJSON := fs.Bool("json", false, "print entries as JSON")
	histogram := fs.Duration("histogram", 0, "print entry counts per bucket of this width instead of entries")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withStore(ctx, env, false, func(store *engine.Store) error {
		if *level != "" {
			lvl, err := model.ParseLevel(*level)
			if err != nil {
				return err
			}
			store.SetLevel(lvl)
		}

		if *histogram > 0 {
			points, err := store.Histogram(*histogram)
			if err != nil {
				return err
			}
			if *asJSON {
				return writeJSON(env.stdout, points)
			}
			for _, p := range points {
				fmt.Fprintf(env.stdout, "%s %d\n", p.Time.Format(time.RFC3339), p.Count)
			}
			return nil
		}

		entries, err := store.Search(*query)
		if err != nil {
			return err
		}
		if *asJSON {
			return writeJSON(env.stdout, entries)
		}
		for _, e := range entries {
			fmt.Fprintln(env.stdout, formatEntry(e))
		}
		return nil
	})
}

func cmdExport(ctx context.Context, env *environment, args []string) error {
	fs := env.flagSet()
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withStore(ctx, env, false, func(store *engine.Store) error {
		h, err := store.ExportLogs(ctx)
		if err != nil {
			return err
		}
		return writeJSON(env.stdout, struct {
			engine.ExportHandle
			Path string `json:"path"`
		}{h, filepath.Join(env.cfg.Export.Dir, h.Name)})
	})
}

func cmdImport(ctx context.Context, env *environment, args []string) error {
	fs := env.flagSet()
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: meshtel import <bundle-id | bundle-name | path>")
	}
	target := fs.Arg(0)

	return withStore(ctx, env, false, func(store *engine.Store) error {
		var (
			added []model.LogEntry
			err   error
		)
		if data, rerr := os.ReadFile(target); rerr == nil {
			added, err = store.ImportBundle(ctx, data)
		} else if strings.HasSuffix(target, ".bundle") {
			added, err = store.ImportLogs(ctx, engine.ExportHandle{Name: target})
		} else {
			added, err = store.ImportLogs(ctx, engine.ExportHandle{ID: target})
		}
		if err != nil {
			if errors.Is(err, security.ErrNoIdentity) {
				return fmt.Errorf("%w (set export.identity_file to import recipient bundles)", err)
			}
			return err
		}
		fmt.Fprintf(env.stdout, "imported %d entr%s\n", len(added), plural(len(added), "y", "ies"))
		return nil
	})
}

func cmdClear(ctx context.Context, env *environment, args []string) error {
	fs := env.flagSet()
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withStore(ctx, env, false, func(store *engine.Store) error {
		store.ClearLogs(ctx)
		fmt.Fprintln(env.stdout, "diagnostic logs cleared")
		return nil
	})
}

func cmdStats(ctx context.Context, env *environment, args []string) error {
	fs := env.flagSet()
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withStore(ctx, env, false, func(store *engine.Store) error {
		return writeJSON(env.stdout, store.Stats())
	})
}

func cmdPrune(ctx context.Context, env *environment, args []string) error {
	fs := env.flagSet()
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withStore(ctx, env, false, func(store *engine.Store) error {
		removed := store.PruneExpired()
		fmt.Fprintf(env.stdout, "pruned %d entr%s\n", removed, plural(removed, "y", "ies"))
		return nil
	})
}

func cmdKeygen(_ context.Context, env *environment, args []string) error {
	fs := env.flagSet()
	out := fs.StringP("output", "o", "", "write the identity to this file (0600) instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	identity, recipient, err := security.GenerateAgeKeypair()
	if err != nil {
		return err
	}
	content := fmt.Sprintf("# created: %s\n# public key: %s\n%s\n",
		time.Now().UTC().Format(time.RFC3339), recipient, identity)

	if *out == "" {
		_, err := io.WriteString(env.stdout, content)
		return err
	}

	f, err := os.OpenFile(*out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating identity file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("writing identity file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "Public key: %s\n", recipient)
	return nil
}

func formatEntry(e model.LogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-8s [%s] %s", e.Timestamp.Format(time.RFC3339), e.Level, e.Category, e.Message)

	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%q", k, e.Metadata[k])
	}
	return b.String()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
