package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/droppurity/aquatrack/controller/daemon"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "aquatrack.yml", "settings file")
	initialize := flag.Bool("init", false, "write a default settings file and exit")
	devMode := flag.Bool("devmode", false, "run with simulated pins and wifi")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	if *initialize {
		if err := daemon.Initialize(*configPath); err != nil {
			log.Fatal(err)
		}
		log.Println("wrote", *configPath)
		return
	}

	settings, err := daemon.LoadSettings(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *devMode {
		settings.DevMode = true
	}

	d, err := daemon.New(settings)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Println("aquatrack", version, "starting")
	if err := d.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
