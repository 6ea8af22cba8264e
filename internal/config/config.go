// Package config loads the line-oriented configuration and requests
// files a node starts from. Parse errors here are fatal during
// initialization, unlike the logged-and-skipped policy for
// bus payloads.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/edgeorc/edgeorc/internal/coord"
)

// NodeConfig is the per-node configuration loaded at startup, one value
// per line.
type NodeConfig struct {
	NodeIndex          int
	ApplicationIndex    int
	NodeAddress         string
	NodeState           coord.NodeState
	Affinity            int
	NodeNumber          int
	BrokerAddress       string
	IsController        bool
}

// Load reads and parses a configuration file using a simple
// line-oriented bufio.Scanner grammar: one field per line, in order.
func Load(path string) (NodeConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	lines, err := readLines(file)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if len(lines) < 7 {
		return NodeConfig{}, fmt.Errorf("config: %s has %d lines, want at least 7", path, len(lines))
	}

	var cfg NodeConfig
	cfg.NodeIndex, err = strconv.Atoi(lines[0])
	if err != nil {
		return NodeConfig{}, fmt.Errorf("config: bad node_index on line 1: %w", err)
	}
	cfg.ApplicationIndex, err = strconv.Atoi(lines[1])
	if err != nil {
		return NodeConfig{}, fmt.Errorf("config: bad application_index on line 2: %w", err)
	}
	cfg.NodeAddress = lines[2]
	cfg.NodeState, err = coord.ParseNodeState(lines[3])
	if err != nil {
		return NodeConfig{}, fmt.Errorf("config: bad node_state on line 4: %w", err)
	}
	cfg.Affinity, err = strconv.Atoi(lines[4])
	if err != nil {
		return NodeConfig{}, fmt.Errorf("config: bad affinity on line 5: %w", err)
	}
	cfg.NodeNumber, err = strconv.Atoi(lines[5])
	if err != nil {
		return NodeConfig{}, fmt.Errorf("config: bad node_number on line 6: %w", err)
	}
	cfg.BrokerAddress = lines[6]

	if len(lines) > 7 && strings.TrimSpace(lines[7]) != "" {
		cfg.IsController, err = strconv.ParseBool(strings.TrimSpace(lines[7]))
		if err != nil {
			return NodeConfig{}, fmt.Errorf("config: bad is_controller on line 8: %w", err)
		}
	}

	return cfg, nil
}

func readLines(f *os.File) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
