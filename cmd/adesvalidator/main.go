package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/subnoto/adesvalidator/common"
	"github.com/subnoto/adesvalidator/config"
	"github.com/subnoto/adesvalidator/log"
	"github.com/subnoto/adesvalidator/server"
	"github.com/subnoto/adesvalidator/verify"
)

const (
	exitOk = 0

	exitArgError    = 1
	exitConfigError = 2
	exitIoError     = 3

	exitUnknown = 0xff
)

func main() {
	exit := exitUnknown
	defer func() { os.Exit(exit) }()

	var (
		configFlagVal   string
		detachedFlagVal string
		serveFlagVal    bool
		helpFlagVal     bool
	)
	flag.StringVar(&configFlagVal, "config", "", "Path to the YAML configuration.")
	flag.StringVar(&detachedFlagVal, "detached", "", "Path to the signed content of a detached signature.")
	flag.BoolVar(&serveFlagVal, "serve", false, "Run the HTTP server instead of validating a file.")
	flag.BoolVar(&helpFlagVal, "h", false, "Print usage.")
	flag.Usage = func() {
		fmt.Printf("Validates the AdES signatures of a document and prints the report as JSON.\n")
		fmt.Printf("Usage:\n")
		fmt.Printf("  %s [arguments] <document>\n", os.Args[0])
		fmt.Printf("  %s -serve [arguments]\n", os.Args[0])
		fmt.Printf("Arguments:\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if helpFlagVal {
		flag.Usage()
		exit = exitOk
		return
	}
	if !serveFlagVal && flag.NArg() != 1 {
		flag.Usage()
		exit = exitArgError
		return
	}

	cfg, err := loadConfig(configFlagVal)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exit = exitConfigError
		return
	}
	logger, err := cfg.Logger(os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exit = exitConfigError
		return
	}
	log.SetLogger(logger)

	opts, cleanup, err := cfg.VerifyOptions()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exit = exitConfigError
		return
	}
	defer cleanup()

	if serveFlagVal {
		if err := server.New(cfg.Server, opts).Run(); err != nil {
			log.Error("server exited: ", err)
			exit = exitIoError
			return
		}
		exit = exitOk
		return
	}

	v := verify.NewSignedDocumentValidator(common.NewFileDocument(flag.Arg(0)), opts)
	if detachedFlagVal != "" {
		v.ExternalContent = common.NewFileDocument(detachedFlagVal)
	}
	r, err := v.ValidateDocument()
	if err != nil {
		log.Error(err)
		exit = exitIoError
		return
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		log.Error("failed to write report: ", err)
		exit = exitIoError
		return
	}
	exit = exitOk
}

// loadConfig reads path, or returns the defaults when no file is given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := &config.Config{}
		cfg.SetDefaults()
		return cfg, nil
	}
	return config.LoadConfig(path)
}
