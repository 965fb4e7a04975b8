package main

import (
	"os"

	zlog "github.com/rs/zerolog/log"
)

func main() {
	if err := newRootCommand(nil).Execute(); err != nil {
		zlog.Error().Err(err).Msg("entitystore failed")
		os.Exit(1)
	}
}
