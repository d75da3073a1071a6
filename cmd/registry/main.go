// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Command registry runs the self-hosted source package registry
server: it loads configuration, bootstraps the git-backed index on
first run, opens the metadata store, and serves the cargo-compatible
HTTP API until the process receives a termination signal.
*/
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/cargoregistry/core/config"
	"github.com/relabs-tech/cargoregistry/core/gitindex"
	"github.com/relabs-tech/cargoregistry/core/logger"
	"github.com/relabs-tech/cargoregistry/core/metastore"
	"github.com/relabs-tech/cargoregistry/core/registryindex"
	"github.com/relabs-tech/cargoregistry/core/schema"
	"github.com/relabs-tech/cargoregistry/core/server"
)

func main() {
	logger.InitLogger(logrus.InfoLevel)
	log := logger.Default()

	var configPath string
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Fatalln("registry: failed to load configuration")
	}

	index := registryindex.New(cfg.Index.Path)
	git := gitindex.New(cfg.Index.Path)
	if err := bootstrapIndex(cfg, index, git); err != nil {
		log.WithError(err).Fatalln("registry: failed to bootstrap index")
	}

	meta, err := metastore.Open(cfg.Database.Path)
	if err != nil {
		log.WithError(err).Fatalln("registry: failed to open metadata store")
	}
	defer meta.Close()

	validator, err := schema.NewPublishedPackageValidator()
	if err != nil {
		log.WithError(err).Fatalln("registry: failed to load publish schema")
	}

	router := server.BuildRouter(server.Dependencies{
		Index:        index,
		Meta:         meta,
		Git:          git,
		Validator:    validator,
		DownloadRoot: cfg.Download.Path,
	})

	srv, err := server.New(cfg, router)
	if err != nil {
		log.WithError(err).Fatalln("registry: failed to bind listening socket")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Infoln("registry: shutting down")
		srv.Close()
	}()

	log.WithField("addr", srv.Addr().String()).Infoln("registry: serving")
	if err := srv.Serve(); err != nil {
		log.WithError(err).Infoln("registry: stopped serving")
	}
}

// bootstrapIndex creates the index repository and its root config.json
// the first time the registry runs against a given index path. An
// index that already has a .git directory is left untouched.
func bootstrapIndex(cfg config.Configuration, index *registryindex.Store, git *gitindex.Driver) error {
	gitDir := filepath.Join(cfg.Index.Path, ".git")
	if _, err := os.Stat(gitDir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := os.MkdirAll(cfg.Index.Path, 0o755); err != nil {
		return err
	}
	if err := git.Init(); err != nil {
		return err
	}

	apiBase := fmt.Sprintf("http://%s:%d", cfg.Net.IP, cfg.Net.Port)
	if err := index.WriteConfigJSON(apiBase, cfg.Download.Path); err != nil {
		return err
	}
	return git.AddAndCommit("config.json", "Init index")
}
