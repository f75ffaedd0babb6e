// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Command cuberepo runs the repository manager as a standalone
// process and doubles as its own administrative client: run with no
// arguments to serve, or with a subcommand to drive one operation
// against a fresh in-process manager over its own empty in-memory
// store.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/config"
	"github.com/cubefs/cubefs/blobstore/common/profile"
	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/log"
	_ "github.com/cubefs/cubefs/blobstore/util/version"

	"github.com/cuberepo/cuberepo"
	"github.com/cuberepo/cuberepo/internal/broadcast"
	"github.com/cuberepo/cuberepo/internal/cube"
	"github.com/cuberepo/cuberepo/internal/memstore"
)

// Config is the process-wide server config, loaded the way the
// teacher loads server.Config: config.Init registers the -f flag,
// config.Load decodes the named JSON file into cfg.
type Config struct {
	HTTPBindPort  uint32    `json:"http_bind_port"`
	MaxProcessors int       `json:"max_processors"`
	LogLevel      log.Level `json:"log_level"`

	Peers               []string      `json:"peers"`
	BroadcastRateLimit  float64       `json:"broadcast_rate_limit"`
	BroadcastTimeout    time.Duration `json:"broadcast_timeout"`
	ReleaseQuiesceDelay time.Duration `json:"release_quiesce_delay"`
}

func main() {
	config.Init("f", "", "cuberepo.json")

	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		log.Fatal(errors.Detail(err))
	}
	if cfg.MaxProcessors > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcessors)
	}
	log.SetOutputLevel(cfg.LogLevel)
	registerLogLevel()

	mgr := newManager(cfg)

	if len(os.Args) > 1 {
		runSubcommand(mgr, os.Args[1:])
		return
	}

	addr := fmt.Sprintf(":%d", cfg.HTTPBindPort)
	ph := profile.NewProfileHandler(addr)
	httpServer := &http.Server{Addr: addr, Handler: rpc.MiddlewareHandlerWith(rpc.DefaultRouter, ph)}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server stopped: %s", err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	<-ch

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

// newManager wires a Manager around the bundled in-memory persister.
// A production deployment replaces memstore.New() with a durable
// ports.PersisterPort implementation; this core never assumes one.
func newManager(cfg *Config) *cuberepo.Manager {
	var bc cuberepo.Broadcaster
	if len(cfg.Peers) > 0 {
		bc = broadcast.NewGRPCBroadcaster(cfg.Peers, cfg.BroadcastRateLimit, cfg.BroadcastTimeout)
	}
	return cuberepo.New(cuberepo.Config{
		Persister:           memstore.New(),
		Delta:               cube.DeltaProcessor{},
		Broadcaster:         bc,
		ReleaseQuiesceDelay: cfg.ReleaseQuiesceDelay,
	})
}

func registerLogLevel() {
	logLevelPath, logLevelHandler := log.ChangeDefaultLevelHandler()
	profile.HandleFunc(http.MethodPost, logLevelPath, func(c *rpc.Context) {
		logLevelHandler.ServeHTTP(c.Writer, c.Request)
	})
	profile.HandleFunc(http.MethodGet, logLevelPath, func(c *rpc.Context) {
		logLevelHandler.ServeHTTP(c.Writer, c.Request)
	})
}

// runSubcommand drives one administrative operation from the command
// line: release, move or commit. Each takes tenant, app and version
// positional arguments in the field order of cuberepo.AppId, followed
// by a branch for move and commit and by the new version for release
// and move.
func runSubcommand(mgr *cuberepo.Manager, args []string) {
	ctx := context.Background()
	user := os.Getenv("USER")
	if user == "" {
		user = "cli"
	}

	switch args[0] {
	case "release":
		if len(args) != 5 {
			log.Fatalf("usage: cuberepo release tenant app version newVersion")
		}
		id := cuberepo.AppId{Tenant: args[1], App: args[2], Version: args[3], Status: cuberepo.Snapshot, Branch: cuberepo.Head}
		released, err := mgr.ReleaseCubes(ctx, id, args[4], user)
		if err != nil {
			log.Fatalf("release failed: %s", err)
		}
		fmt.Printf("released %d cubes\n", len(released))
	case "move":
		if len(args) != 6 {
			log.Fatalf("usage: cuberepo move tenant app version branch newVersion")
		}
		id := cuberepo.AppId{Tenant: args[1], App: args[2], Version: args[3], Status: cuberepo.Snapshot, Branch: args[4]}
		if err := mgr.MoveBranch(ctx, id, args[5], user); err != nil {
			log.Fatalf("move failed: %s", err)
		}
	case "commit":
		if len(args) != 5 {
			log.Fatalf("usage: cuberepo commit tenant app version branch")
		}
		id := cuberepo.AppId{Tenant: args[1], App: args[2], Version: args[3], Status: cuberepo.Snapshot, Branch: args[4]}
		if err := mgr.CommitBranch(ctx, id, user); err != nil {
			log.Fatalf("commit failed: %s", err)
		}
	default:
		log.Fatalf("unknown subcommand %q (want release, move or commit)", args[0])
	}
}
