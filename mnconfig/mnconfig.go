// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mnconfig reads masternode.conf, the list of remote masternodes
// controlled by the local wallet.
//
// Every non-empty line which does not start with a '#' describes one node:
//
//	alias IP:port masternodeprivkey collateral_output_txid collateral_output_index
//
// Fields are separated by whitespace.  Extra trailing fields are ignored.
package mnconfig

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// DefaultFileName is the default name of the masternode configuration file.
const DefaultFileName = "masternode.conf"

// header is written to a new configuration file.
const header = `# Masternode config file
# Format: alias IP:port masternodeprivkey collateral_output_txid collateral_output_index
# Example: mn1 127.0.0.2:51472 93HaYBVUCYjEMeeH1Y4sBGLALQZE1Yc1K64xiqgX37tGBDQL8Xg 2bcd3c84c84f87eaa86e4e56834c92927a07f9e18718810b92e0d0324456a67c 0
`

// Entry is a single remote masternode.
type Entry struct {
	Alias       string
	IP          string
	PrivKey     string
	TxHash      string
	OutputIndex string
}

// CastOutputIndex returns the collateral output index as an integer.
func (e *Entry) CastOutputIndex() (uint32, error) {
	n, err := strconv.ParseUint(e.OutputIndex, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid output index %q of %s: %v",
			e.OutputIndex, e.Alias, err)
	}
	return uint32(n), nil
}

// ParseError describes a line which could not be parsed.
type ParseError struct {
	Line int
	Text string
}

// Error satisfies the error interface and prints human-readable errors.
func (e ParseError) Error() string {
	return fmt.Sprintf("could not parse masternode.conf, line %d: %q",
		e.Line, e.Text)
}

// Config holds the entries read from a configuration file.
type Config struct {
	Entries []Entry
}

// Add appends a new entry.
func (c *Config) Add(alias, ip, privKey, txHash, outputIndex string) {
	c.Entries = append(c.Entries, Entry{
		Alias:       alias,
		IP:          ip,
		PrivKey:     privKey,
		TxHash:      txHash,
		OutputIndex: outputIndex,
	})
}

// Count returns the number of entries.
func (c *Config) Count() int {
	return len(c.Entries)
}

// Find returns the entry with the given alias.
func (c *Config) Find(alias string) (Entry, bool) {
	for _, e := range c.Entries {
		if e.Alias == alias {
			return e, true
		}
	}
	return Entry{}, false
}

// Parse reads entries from r.
func Parse(r io.Reader) (*Config, error) {
	var cfg Config
	scanner := bufio.NewScanner(r)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if len(fields) < 5 {
			return nil, ParseError{Line: lineNum, Text: line}
		}
		cfg.Add(fields[0], fields[1], fields[2], fields[3], fields[4])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Read reads the configuration file at path.  A missing file is created
// with a commented template and yields an empty configuration.
func Read(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		log.Infof("Creating masternode config template %s", path)
		if err := os.WriteFile(path, []byte(header), 0600); err != nil {
			return nil, err
		}
		return &Config{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, err
	}
	log.Debugf("Read %d masternode entries from %s", cfg.Count(), path)
	return cfg, nil
}
