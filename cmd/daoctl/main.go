package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sort"
	"syscall"

	"github.com/zeromicro/go-zero/core/logx"

	"dao-voting-sol/internal/config"
	"dao-voting-sol/internal/svc"
	"dao-voting-sol/pkg/logger"
)

var configFile = flag.String("f", "etc/daoctl.yaml", "the config file")

// command 子命令；needSigner 为 true 时先加载密钥
type command struct {
	usage      string
	needSigner bool
	run        func(ctx context.Context, sc *svc.ServiceContext, args []string) error
}

var commands = map[string]command{
	"init":     {"init -name <dao name>", true, runInit},
	"create":   {"create -title <t> [-desc <d>] [-duration <seconds>]", true, runCreate},
	"vote":     {"vote -id <proposal> -choice yes|no|abstain", true, runVote},
	"finalize": {"finalize -id <proposal>", true, runFinalize},
	"list":     {"list [-status active|passed|rejected|expired]", false, runList},
	"show":     {"show -id <proposal>", false, runShow},
	"history":  {"history [-voter <pubkey>]", false, runHistory},
	"stats":    {"stats", false, runStats},
	"voters":   {"voters -id <proposal> [-limit n]", false, runVoters},
	"derive":   {"derive [-id <proposal>] [-voter <pubkey>]", false, runDerive},
	"watch":    {"watch", false, runWatch},
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: daoctl [-f config] <command> [flags]\n\ncommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
	}
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			logx.Errorf("panic: %+v\nstack: %s", r, debug.Stack())
			os.Exit(2)
		}
	}()

	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}

	if err := run(cmd, flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd command, args []string) error {
	c, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	if err := logger.Init(c.LogConf.ToLogOption()); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	sc, err := svc.NewServiceContext(c)
	if err != nil {
		return err
	}
	defer sc.Close()

	if cmd.needSigner {
		if err := sc.WithSigner(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = cmd.run(ctx, sc, args)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return err
}
