// Command devtoken mints a signed token for a user id, for exercising the
// chat API locally without the account service.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/npezzotti/pawchat/internal/auth"
	"github.com/npezzotti/pawchat/internal/config"
	"github.com/npezzotti/pawchat/internal/logging"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML config file")
	userId := flag.Int64("user", 0, "user id to issue the token for")
	exp := flag.Duration("exp", 24*time.Hour, "token lifetime")
	flag.Parse()

	logger := logging.New(logging.Config{Pretty: true, Service: "devtoken"})

	if *userId <= 0 {
		logger.Fatal().Msg("-user must be a positive user id")
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}

	token, err := auth.IssueToken(cfg.SigningKey, *userId, *exp)
	if err != nil {
		logger.Fatal().Err(err).Msg("issue token")
	}

	fmt.Fprintln(os.Stdout, token)
}
