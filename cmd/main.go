package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/browser"

	"github.com/Kirill-Marinushkin/umlaut-kb/internal/api"
	"github.com/Kirill-Marinushkin/umlaut-kb/internal/config"
)

func main() {
	useApi := flag.Bool("api", false, "run with the HTTP control API")
	configPath := flag.String("config", "", "path of the configuration file (default path is used when empty)")
	port := flag.Int("port", 0, "port of the HTTP API (overrides the configuration)")
	openPage := flag.Bool("open", false, "open the status page in a browser (API mode only)")
	flag.Parse()

	defaultConfigPath := ""
	configDir, err := config.GetDefaultConfigDir()
	if err == nil {
		defaultConfigPath = filepath.Join(configDir, "config.toml")
	}

	cfgPath := defaultConfigPath
	if *configPath != "" {
		cfgPath = *configPath
	}

	var cfg *config.Config
	if cfgPath != "" {
		cfg, err = config.LoadConfig(cfgPath)
		if err != nil {
			fmt.Printf("could not load the configuration: %v\nfalling back to the defaults\n", err)
			cfg = config.DefaultConfig()
		} else {
			fmt.Printf("configuration loaded from %s\n", cfgPath)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if *port != 0 {
		cfg.API.Port = *port
	}

	svc := api.NewDriverService(cfg)
	handleSignals(svc)

	if *useApi {
		fmt.Printf("starting in API mode (port %d)...\n", cfg.API.Port)
		if *openPage {
			go openStatusPage(cfg.API.Port)
		}
		runApiServer(cfg, svc)
	} else {
		fmt.Println("starting in headless mode...")
		runHeadless(svc)
	}
}

func runApiServer(cfg *config.Config, svc *api.DriverService) {
	server := api.NewServer(cfg, svc, cfg.API.Port)

	if err := svc.Start(); err != nil {
		log.Printf("driver service did not start: %v (use the API to retry)", err)
	}

	if err := server.Start(); err != nil {
		log.Fatalf("could not start the API server: %v", err)
	}
}

func runHeadless(svc *api.DriverService) {
	if err := svc.Start(); err != nil {
		fmt.Printf("could not start the driver service: %v\n", err)
		os.Exit(1)
	}

	// wait for a signal; teardown happens in handleSignals
	select {}
}

func openStatusPage(port int) {
	// give the listener a moment before pointing a browser at it
	time.Sleep(300 * time.Millisecond)
	url := fmt.Sprintf("http://localhost:%d/api/devices", port)
	if err := browser.OpenURL(url); err != nil {
		log.Printf("could not open %s: %v", url, err)
	}
}

func handleSignals(svc *api.DriverService) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("shutting down...")
		if svc.IsRunning() {
			_ = svc.Stop()
		}
		os.Exit(0)
	}()
}
