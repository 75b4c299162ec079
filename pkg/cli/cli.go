package cli

import (
	"context"
	"flag"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/peterbourgon/ff/ffyaml"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"

	harmonai "github.com/KrishKoria/HarmonAI"
	"github.com/KrishKoria/HarmonAI/pkg/cmd/migrate"
	"github.com/KrishKoria/HarmonAI/pkg/cmd/serve"
	"github.com/KrishKoria/HarmonAI/pkg/cmd/worker"
	"github.com/KrishKoria/HarmonAI/pkg/song"
)

func New(version, commit, date string) *ffcli.Command {
	fs := flag.NewFlagSet("harmonai", flag.ExitOnError)

	return &ffcli.Command{
		ShortUsage: "harmonai [flags] <subcommand>",
		FlagSet:    fs,
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
		Subcommands: []*ffcli.Command{
			newVersionCommand(version, commit, date),
			newMigrateCommand(),
			newServeCommand(),
			newWorkerCommand(),
			newRequestCommand(),
		},
	}
}

func newVersionCommand(version, commit, date string) *ffcli.Command {
	return &ffcli.Command{
		Name:       "version",
		ShortUsage: "harmonai version",
		ShortHelp:  "print version",
		Exec: func(ctx context.Context, args []string) error {
			v := version
			if v == "" {
				if buildInfo, ok := debug.ReadBuildInfo(); ok {
					v = buildInfo.Main.Version
				}
			}
			if v == "" {
				v = "dev"
			}
			versionFields := []string{v}
			if commit != "" {
				versionFields = append(versionFields, commit)
			}
			if date != "" {
				versionFields = append(versionFields, date)
			}
			fmt.Println(strings.Join(versionFields, " "))
			return nil
		},
	}
}

func newMigrateCommand() *ffcli.Command {
	cmd := "migrate"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &migrate.Config{}

	fs.StringVar(&cfg.DBType, "db-type", "", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "", "path for sqlite, dsn for mysql or postgres")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("harmonai %s [flags]", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("HARMONAI"),
		},
		ShortHelp: fmt.Sprintf("harmonai %s command", cmd),
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return migrate.Run(ctx, cfg)
		},
	}
}

func newServeCommand() *ffcli.Command {
	cmd := "serve"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &serve.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.DBType, "db-type", "", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "", "path for sqlite, dsn for mysql or postgres")
	fs.StringVar(&cfg.FSType, "fs-type", "", "file storage type (s3, local)")
	fs.StringVar(&cfg.FSConn, "fs-conn", "", "file storage connection string")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "127.0.0.1:6379", "redis address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", "", "redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database")
	fs.StringVar(&cfg.Addr, "addr", "localhost:8080", "address where the server will be listening")
	fs.StringVar(&cfg.WebhookSecret, "webhook-secret", "", "payment webhook shared secret")
	fs.DurationVar(&cfg.DispatchInterval, "dispatch-interval", 2*time.Second, "outbox dispatch interval")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("harmonai %s [flags]", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("HARMONAI"),
		},
		ShortHelp: fmt.Sprintf("harmonai %s command", cmd),
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return serve.Serve(ctx, cfg)
		},
	}
}

func newWorkerCommand() *ffcli.Command {
	cmd := "worker"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &worker.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.DBType, "db-type", "", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "", "path for sqlite, dsn for mysql or postgres")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "127.0.0.1:6379", "redis address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", "", "redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database")
	fs.StringVar(&cfg.GeneratorURL, "generator-url", "", "base url of the generation api")
	fs.IntVar(&cfg.Concurrency, "concurrency", 1, "number of concurrent renders")
	fs.DurationVar(&cfg.Timeout, "timeout", 0, "timeout for the process (0 means no timeout)")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("harmonai %s [flags]", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("HARMONAI"),
		},
		ShortHelp: fmt.Sprintf("harmonai %s command", cmd),
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return worker.Run(ctx, cfg)
		},
	}
}

func newRequestCommand() *ffcli.Command {
	cmd := "request"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &harmonai.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.DBType, "db-type", "", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "", "path for sqlite, dsn for mysql or postgres")

	var req song.Request
	var userID string
	fs.StringVar(&userID, "user", "", "user id to queue the songs for")
	fs.StringVar(&req.Prompt, "prompt", "", "style prompt for the song")
	fs.StringVar(&req.Lyrics, "lyrics", "", "custom lyrics")
	fs.StringVar(&req.DescribedLyrics, "described-lyrics", "", "description of the lyrics to generate")
	fs.StringVar(&req.FullDescribedSong, "description", "", "full description of the song to generate")
	fs.BoolVar(&req.Instrumental, "instrumental", false, "instrumental song")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("harmonai %s [flags]", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("HARMONAI"),
		},
		ShortHelp: fmt.Sprintf("harmonai %s command", cmd),
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return harmonai.RequestSong(ctx, cfg, req, userID)
		},
	}
}
