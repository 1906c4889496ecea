// Command simulator boots the multi-device Modbus/TCP slave simulator:
// it loads a device template file, registers every device with the
// manager, starts each one, and records lifecycle transitions to the
// catalog until interrupted. Grounded on the teacher's cmd/servers/main.go
// (flag + YAML load + signal.Notify + manager.Run shape).
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"modbus-simulator/internal/catalog"
	"modbus-simulator/internal/devicemgr"
	"modbus-simulator/internal/simconfig"
	"modbus-simulator/internal/store"
)

func main() {
	var cfgPath, catalogPath string
	flag.StringVar(&cfgPath, "config", "config/devices.yaml", "path to YAML device templates")
	flag.StringVar(&catalogPath, "catalog", "simulator.db", "path to the sqlite device catalog")
	flag.Parse()

	configs, err := simconfig.Load(cfgPath)
	if err != nil {
		log.Fatalf("load device templates %s: %v", cfgPath, err)
	}

	cat, err := catalog.Open(catalogPath)
	if err != nil {
		log.Fatalf("open catalog %s: %v", catalogPath, err)
	}
	defer cat.Close()

	pointStore := store.New()
	mgr := devicemgr.New(pointStore)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := mgr.Subscribe(64)
	go logAndRecordEvents(ctx, cat, events)

	for _, cfg := range configs {
		if err := mgr.Add(cfg); err != nil {
			log.Printf("device %s: add failed: %v", cfg.ID, err)
			continue
		}
		if err := cat.UpsertDevice(ctx, catalog.DeviceRecord{
			DeviceID: cfg.ID,
			Name:     cfg.Name,
			BindIP:   cfg.BindIP,
			Port:     cfg.Port,
		}); err != nil {
			log.Printf("device %s: catalog upsert failed: %v", cfg.ID, err)
		}
		if err := mgr.Start(cfg.ID); err != nil {
			log.Printf("device %s: start failed: %v", cfg.ID, err)
			continue
		}
		log.Printf("device %s (%s) listening on %s:%d", cfg.ID, cfg.Name, cfg.BindIP, cfg.Port)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	status := make(chan os.Signal, 1)
	signal.Notify(status, syscall.SIGHUP)

	for {
		select {
		case <-status:
			logStatus(mgr, configs)
		case <-shutdown:
			log.Printf("shutting down...")
			cancel()
			for _, cfg := range configs {
				if err := mgr.Stop(cfg.ID); err != nil {
					log.Printf("device %s: stop failed: %v", cfg.ID, err)
				}
			}
			return
		}
	}
}

// logStatus prints one line per configured device on SIGHUP, the
// operator's way of asking "what's running" without a full restart.
func logStatus(mgr *devicemgr.Manager, configs []devicemgr.Config) {
	for _, cfg := range configs {
		state, lastErr, ok := mgr.Status(cfg.ID)
		if !ok {
			log.Printf("status: device %s unknown", cfg.ID)
			continue
		}
		log.Printf("status: device %s (%s) state=%s last_error=%q", cfg.ID, cfg.Name, state, lastErr)
	}
}

func logAndRecordEvents(ctx context.Context, cat *catalog.Store, events <-chan devicemgr.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			log.Printf("device %s: %s status=%s message=%q", ev.DeviceID, ev.Type, ev.Status, ev.Message)
			if err := cat.RecordEvent(ctx, ev.DeviceID, string(ev.Status), ev.Message); err != nil {
				log.Printf("device %s: record event failed: %v", ev.DeviceID, err)
			}
		}
	}
}
