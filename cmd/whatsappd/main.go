package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/hubescolar/whatsapp/internal/config"
	"github.com/hubescolar/whatsapp/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "whatsapp.toml", "path to the TOML config file")
	envFlag := flag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	flag.Parse()

	// A missing .env is normal outside development.
	_ = godotenv.Load(*envFlag)

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Config: cfg}),
	)

	app.Run()
}
