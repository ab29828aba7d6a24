package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/GwanWingYan/vaultsign/pkg/infra"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

const (
	logLevelEnv = "VAULTSIGN_LOGLEVEL"
)

var (
	logger  *log.Logger
	config  infra.Config
	fullCmd string
)

var (
	app = kingpin.New("vaultsign", "Signing client for multi-signature vaults")

	run        = app.Command("run", "Serve the signing client").Default()
	runConfig  = run.Flag("config", "Path to config file").Required().Short('c').String()
	runSession = run.Flag("session", "dApp popup session id, overrides the config").String()
	runRequest = run.Flag("request", "dApp request id, overrides the config").String()

	list       = app.Command("transactions", "List the account's vault transactions")
	listConfig = list.Flag("config", "Path to config file").Required().Short('c').String()
	listStatus = list.Flag("status", "Keep only this display status, may repeat").Enums(
		"COMPLETED", "DECLINED", "PENDING_FOR_ME", "PENDING_FOR_OTHERS", "FAILED", "CANCELLED")

	version = app.Command("version", "Show version information")
)

func newLogger() *log.Logger {
	logger = log.New()
	logger.SetLevel(log.InfoLevel)
	if value, ok := os.LookupEnv(logLevelEnv); ok {
		if level, err := log.ParseLevel(value); err == nil {
			logger.SetLevel(level)
		}
	}
	return logger
}

func loadConfig(path string) infra.Config {
	c, err := infra.LoadConfigFromFile(path)
	if err != nil {
		logger.Fatalf("load config error: %v\n", err)
	}
	return c
}

func main() {
	var err error

	fullCmd = kingpin.MustParse(app.Parse(os.Args[1:]))

	logger = newLogger()

	switch fullCmd {
	case run.FullCommand():
		config = loadConfig(*runConfig)
		if *runSession != "" {
			config.SessionID = *runSession
		}
		if *runRequest != "" {
			config.RequestID = *runRequest
		}
		if err = config.Validate(); err == nil {
			err = infra.Process(config, logger)
		}
	case list.FullCommand():
		config = loadConfig(*listConfig)
		err = infra.PrintTransactions(config, logger, os.Stdout, *listStatus)
	case version.FullCommand():
		fmt.Print(infra.GetVersionInfo())
	default:
		err = errors.Errorf("invalid command: %s", strings.TrimSpace(fullCmd))
	}

	if err != nil {
		logger.Errorln(err)
		os.Exit(1)
	}
	os.Exit(0)
}
