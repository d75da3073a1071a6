// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package config loads the registry's TOML configuration file.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// defaultThreads is the worker pool size used when net.threads is absent
// or zero in the configuration file.
const defaultThreads = 10

// Index holds the filesystem location of the git-backed index.
type Index struct {
	Path string `toml:"path"`
}

// Download holds the URL path prefix (and filesystem-relative prefix)
// under which artifact blobs are served.
type Download struct {
	Path string `toml:"path"`
}

// Net holds the listening socket configuration.
type Net struct {
	IP      string `toml:"ip"`
	Port    uint16 `toml:"port"`
	Threads int    `toml:"threads"`
}

// Database holds the filesystem location of the metadata database.
type Database struct {
	Path string `toml:"path"`
}

// Configuration is the full, immutable configuration of one registry
// instance. It is constructed once at startup and passed by reference
// into every component that needs it; no component reaches for ambient
// configuration.
type Configuration struct {
	Index    Index    `toml:"index"`
	Download Download `toml:"download"`
	Net      Net      `toml:"net"`
	Database Database `toml:"database"`
}

// Default returns the built-in configuration used when no config file
// path is given on the command line.
func Default() Configuration {
	return Configuration{
		Index:    Index{Path: "index"},
		Download: Download{Path: "dl"},
		Net:      Net{IP: "127.0.0.1", Port: 8080, Threads: defaultThreads},
		Database: Database{Path: "registry.db"},
	}
}

// Load reads and parses the TOML configuration file at path. An empty
// path returns the built-in default configuration.
func Load(path string) (Configuration, error) {
	if path == "" {
		return Default(), nil
	}
	var config Configuration
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return Configuration{}, fmt.Errorf("parse error in registry configuration: %w", err)
	}
	if config.Net.Threads == 0 {
		config.Net.Threads = defaultThreads
	}
	if config.Index.Path == "" {
		return Configuration{}, fmt.Errorf("index.path is required")
	}
	if config.Download.Path == "" {
		return Configuration{}, fmt.Errorf("download.path is required")
	}
	if config.Database.Path == "" {
		return Configuration{}, fmt.Errorf("database.path is required")
	}
	return config, nil
}

// SocketAddr returns the "ip:port" string the server should bind to.
func (c Configuration) SocketAddr() string {
	return fmt.Sprintf("%s:%d", c.Net.IP, c.Net.Port)
}
