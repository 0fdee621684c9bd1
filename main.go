package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"eventnode/commands"
	"eventnode/config"

	log "github.com/sirupsen/logrus"
)

func setLogLevel(level string) {
	l, err := log.ParseLevel(level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	log.SetLevel(l)
}

func registerGlobalFlags(fset *flag.FlagSet) {
	flag.VisitAll(func(f *flag.Flag) {
		fset.Var(f.Value, f.Name, f.Usage)
	})
}

func checkConfig(cfg string) {
	if cfg == "" {
		log.Fatal("Config file not specified")
	}
}

func loadConfig(configFile string) *config.Config {
	cfg, err := config.NewConfigFromFile(configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// main is the entry point of the application.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	configFile := flag.String("config", "", "Path to config file")
	logLevel := flag.String("loglevel", "info", "Log level")

	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	externalAddr := initCmd.String("external-addr", "", "Address advertised to peers; makes the node a server")
	providerURL := initCmd.String("provider", "", "JSON-RPC URL of the blockchain provider")
	contract := initCmd.String("contract", "", "Address of the event contract")
	registerGlobalFlags(initCmd)

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	registerGlobalFlags(serveCmd)

	syncCmd := flag.NewFlagSet("sync", flag.ExitOnError)
	registerGlobalFlags(syncCmd)

	infoCmd := flag.NewFlagSet("info", flag.ExitOnError)
	registerGlobalFlags(infoCmd)

	if len(os.Args) < 2 {
		log.WithField("args", os.Args).Fatal("Expected a subcommand: init, serve, sync or info")
	}
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "init":
		initCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		cfg := config.NewEmptyConfig(*configFile)
		commands.RunInit(ctx, cfg, *externalAddr, *providerURL, *contract)
	case "serve":
		serveCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunServe(ctx, loadConfig(*configFile))
	case "sync":
		syncCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunSync(ctx, loadConfig(*configFile))
	case "info":
		infoCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunInfo(ctx, loadConfig(*configFile))
	default:
		log.Fatalf("Invalid subcommand '%s'", os.Args[1])
	}
}
