// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mnmetrics exports the state of the masternode subsystems to
// prometheus.
package mnmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mnsuite/mnd/activemn"
	"github.com/mnsuite/mnd/mnsync"
)

const namespace = "mnd"

// Registry is the masternode registry.
type Registry interface {
	Size() int
	CountEnabled(protocolVersion uint32) int
}

// Ledger is the payment ledger.
type Ledger interface {
	Counts() (votes, blocks int)
}

// SyncState is the sync state machine.
type SyncState interface {
	Status() mnsync.Status
}

// LocalMasternode is the local masternode controller.
type LocalMasternode interface {
	Status() activemn.Status
}

// Sources are the subsystems read on every scrape.  Nil sources are
// skipped.
type Sources struct {
	Registry Registry
	Ledger   Ledger
	Sync     SyncState
	Local    LocalMasternode
}

// Collector implements prometheus.Collector by reading the subsystems
// when scraped.
type Collector struct {
	src Sources

	masternodes  *prometheus.Desc
	enabled      *prometheus.Desc
	votes        *prometheus.Desc
	blocks       *prometheus.Desc
	syncStage    *prometheus.Desc
	syncFailures *prometheus.Desc
	activeStatus *prometheus.Desc
}

// NewCollector returns a collector over the given subsystems.
func NewCollector(src Sources) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name),
			help, nil, nil)
	}
	return &Collector{
		src:          src,
		masternodes:  desc("masternodes_total", "Number of known masternodes."),
		enabled:      desc("masternodes_enabled", "Number of enabled masternodes."),
		votes:        desc("payment_votes", "Number of payment votes held."),
		blocks:       desc("payment_blocks", "Number of heights with payment votes."),
		syncStage:    desc("sync_stage", "Current masternode sync stage."),
		syncFailures: desc("sync_failures_total", "Failed sync attempts since the last reset."),
		activeStatus: desc("active_status", "Activation state of the local masternode."),
	}
}

// Describe sends the descriptors of the metrics.  This is part of the
// prometheus.Collector interface implementation.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.masternodes
	ch <- c.enabled
	ch <- c.votes
	ch <- c.blocks
	ch <- c.syncStage
	ch <- c.syncFailures
	ch <- c.activeStatus
}

// Collect sends the current values.  This is part of the
// prometheus.Collector interface implementation.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	if r := c.src.Registry; r != nil {
		gauge(c.masternodes, float64(r.Size()))
		gauge(c.enabled, float64(r.CountEnabled(0)))
	}
	if l := c.src.Ledger; l != nil {
		votes, blocks := l.Counts()
		gauge(c.votes, float64(votes))
		gauge(c.blocks, float64(blocks))
	}
	if s := c.src.Sync; s != nil {
		st := s.Status()
		gauge(c.syncStage, float64(st.Stage))
		ch <- prometheus.MustNewConstMetric(c.syncFailures,
			prometheus.CounterValue, float64(st.Failures))
	}
	if l := c.src.Local; l != nil {
		gauge(c.activeStatus, float64(l.Status()))
	}
}

// Handler returns an HTTP handler serving the collector from a private
// registry.
func Handler(c *Collector) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
