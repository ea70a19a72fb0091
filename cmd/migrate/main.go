// migrate applies or rolls back the embedded SQL migrations, or prints the schema version.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/config"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", migrate.Up, "Migration direction: up, down or version")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
		os.Exit(1)
	}

	res, err := migrate.Run(cfg.DatabaseURL, *direction)
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	switch {
	case *direction == migrate.Version:
		fmt.Printf("version %d (dirty=%t)\n", res.Version, res.Dirty)
	case res.Applied:
		fmt.Printf("migrated %s to version %d\n", *direction, res.Version)
	default:
		fmt.Printf("no change, at version %d\n", res.Version)
	}
}
