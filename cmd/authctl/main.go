package main

import (
	"context"
	"os"

	"github.com/dmitrijs2005/authgate/internal/authctl"
	"github.com/dmitrijs2005/authgate/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app := authctl.NewApp(cfg)

	os.Exit(app.Run(ctx, os.Args[1:]))

}
