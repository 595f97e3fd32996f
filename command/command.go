package command

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/docker/go-units"
	"github.com/ptgott/tablekv/storage"
	"github.com/ptgott/tablekv/userconfig"
	"github.com/rs/zerolog/log"
)

// ErrUsage means the command line couldn't be understood.
var ErrUsage = errors.New("usage error")

// subcommand is one operation the tool can run against a table. Arguments
// are checked against minArgs/maxArgs before the table is opened. A
// negative maxArgs means no upper bound.
type subcommand struct {
	usage   string
	minArgs int
	maxArgs int
	run     func(ctx context.Context, kv storage.KeyValue, args []string, w io.Writer) error
}

// describer is implemented by stores that can say where their entries
// live. *storage.Table is one.
type describer interface {
	Name() string
	TableName() string
	Path() string
}

var subcommands = map[string]subcommand{
	"get": {
		usage:   "get KEY [KEY...]",
		minArgs: 1,
		maxArgs: -1,
		run:     runGet,
	},
	"set": {
		usage:   "set KEY JSON",
		minArgs: 2,
		maxArgs: 2,
		run:     runSet,
	},
	"delete": {
		usage:   "delete KEY",
		minArgs: 1,
		maxArgs: 1,
		run: func(ctx context.Context, kv storage.KeyValue, args []string, w io.Writer) error {
			return kv.Delete(ctx, storage.StringKey(args[0]))
		},
	},
	"keys": {
		usage: "keys",
		run:   runKeys,
	},
	"count": {
		usage: "count",
		run: func(ctx context.Context, kv storage.KeyValue, args []string, w io.Writer) error {
			n, err := kv.Count(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(w, n)
			return err
		},
	},
	"clear": {
		usage: "clear",
		run: func(ctx context.Context, kv storage.KeyValue, args []string, w io.Writer) error {
			return kv.Clear(ctx)
		},
	},
	"stats": {
		usage: "stats",
		run:   runStats,
	},
}

// Run parses args (without the program name), opens the configured table,
// and runs the requested subcommand, writing its output to stdout.
//
// Settings are read from the -config file first, then TABLEKV_* environment
// variables, then flags, each overriding the last.
func Run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("tablekv", flag.ContinueOnError)
	configPath := fs.String(
		"config",
		"",
		"path to a JSON or YAML file containing your configuration",
	)
	name := fs.String(
		"name",
		"",
		"name of the table to operate on",
	)
	dataDir := fs.String(
		"data-dir",
		"",
		fmt.Sprintf("directory holding the store file (default %q)", storage.DefaultDataDir),
	)
	level := fs.String(
		"level",
		"",
		`log level: "info", "debug", or "warn"`,
	)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: tablekv [flags] <command>\n\nCommands:\n")
		for _, n := range subcommandNames() {
			fmt.Fprintf(fs.Output(), "  %v\n", subcommands[n].usage)
		}
		fmt.Fprintf(fs.Output(), "\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	config, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := config.ApplyEnv(); err != nil {
		return err
	}
	if *name != "" {
		config.Storage.Name = *name
	}
	if *dataDir != "" {
		config.Storage.DataDir = *dataDir
	}
	if *level != "" {
		config.Logging.Level = *level
	}

	checked, err := config.CheckAndSetDefaults()
	if err != nil {
		return err
	}
	log.Logger = log.Logger.Level(checked.Logging.ZerologLevel())

	rest := fs.Args()
	if len(rest) == 0 {
		return fmt.Errorf("%w: no command given", ErrUsage)
	}
	sc, ok := subcommands[rest[0]]
	if !ok {
		return fmt.Errorf(
			"%w: unknown command %q, expected one of %v",
			ErrUsage, rest[0], strings.Join(subcommandNames(), ", "),
		)
	}
	cmdArgs := rest[1:]
	if len(cmdArgs) < sc.minArgs || (sc.maxArgs >= 0 && len(cmdArgs) > sc.maxArgs) {
		return fmt.Errorf("%w: expected %q", ErrUsage, sc.usage)
	}

	tbl, err := storage.Open(ctx, checked.Storage)
	if err != nil {
		return err
	}
	defer tbl.Close()

	log.Debug().
		Str("command", rest[0]).
		Str("table", tbl.TableName()).
		Msg("running the command")

	return sc.run(ctx, tbl, cmdArgs, stdout)
}

// loadConfig parses the config file at path. An empty path means there is
// no config file and everything comes from the environment and flags.
func loadConfig(path string) (*userconfig.Meta, error) {
	if path == "" {
		return &userconfig.Meta{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("can't open the config file: %w", err)
	}
	defer f.Close()

	log.Debug().Str("configPath", path).Msg("reading the config file")
	return userconfig.Parse(f)
}

func subcommandNames() []string {
	names := make([]string, 0, len(subcommands))
	for n := range subcommands {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// runGet prints the JSON value of a single key, or one "key<TAB>value" line
// per existing key when several are given.
func runGet(ctx context.Context, kv storage.KeyValue, args []string, w io.Writer) error {
	if len(args) == 1 {
		res, err := kv.Get(ctx, storage.StringKey(args[0]))
		if err != nil {
			return err
		}
		if !res.Found {
			return fmt.Errorf("%w: %q", storage.ErrNotFound, args[0])
		}
		_, err = fmt.Fprintln(w, string(res.Raw))
		return err
	}

	keys := make([]storage.Key, len(args))
	for i, a := range args {
		keys[i] = storage.StringKey(a)
	}
	entries, err := kv.GetMany(ctx, keys)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%v\t%v\n", e.Key, string(e.Raw)); err != nil {
			return err
		}
	}
	return nil
}

// runSet stores the second argument, which must already be JSON.
func runSet(ctx context.Context, kv storage.KeyValue, args []string, w io.Writer) error {
	return kv.Set(ctx, storage.StringKey(args[0]), json.RawMessage(args[1]))
}

func runKeys(ctx context.Context, kv storage.KeyValue, args []string, w io.Writer) error {
	keys, err := kv.Keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := fmt.Fprintln(w, k); err != nil {
			return err
		}
	}
	return nil
}

// runStats needs a store that implements describer, since the size it
// prints is the size of the store file.
func runStats(ctx context.Context, kv storage.KeyValue, args []string, w io.Writer) error {
	d, ok := kv.(describer)
	if !ok {
		return fmt.Errorf("%w: stats needs a table backed by a store file, not %T", ErrUsage, kv)
	}
	n, err := kv.Count(ctx)
	if err != nil {
		return err
	}
	info, err := os.Stat(d.Path())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w,
		"name:    %v\ntable:   %v\npath:    %v\nentries: %v\nsize:    %v\n",
		d.Name(),
		d.TableName(),
		d.Path(),
		n,
		units.HumanSize(float64(info.Size())),
	)
	return err
}
