package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/trezcool/masomo-marks/apps/bootstrap"
	"github.com/trezcool/masomo-marks/core"
	"github.com/trezcool/masomo-marks/storage/database"
)

func main() {
	conf := core.NewConfig()

	logger, err := bootstrap.NewLogger(conf, "admin")
	if err != nil {
		log.Fatal(err)
	}

	// set up DB; migrations are left to the migrate command
	if err = database.CreateIfNotExist(conf); err != nil {
		logger.Fatal("creating database", err)
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal("opening database", err)
	}

	svc, err := bootstrap.NewMarksService(conf, db, logger, nil)
	if err != nil {
		logger.Fatal("setting up marks service", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	// start CLI
	cli := commandLine{
		db:     db,
		engine: conf.Database.Engine,
		svc:    svc,
		out:    os.Stdout,
	}
	err = cli.run(ctx, os.Args[1:])

	stop()
	_ = db.Close()
	logger.Close()
	if err != nil {
		log.Printf("\nerror: %s\n", err)
		os.Exit(1)
	}
}
