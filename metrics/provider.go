/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package metrics exposes a Prometheus registry and HTTP endpoint shared by
// every long-running module in the ordering core (orderer, sequencer,
// scheduler), grounded on the teacher's monitoring provider but pared down
// to what this core actually emits: every one of its published metrics is
// a monotonic count (batches cut, transactions dispatched/aborted/
// blocked), so unlike the teacher's Provider this one only ever mints
// Counters, not the full Gauge/Histogram surface the teacher's generic
// provider carries for its own, wider set of callers. Every Counter this
// Provider mints is namespaced "geotxn" without the caller having to
// repeat it, since this core, unlike the teacher's multi-service binary,
// only ever registers metrics under the one namespace.
package metrics

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"geotxn/logging"

	fabmetrics "github.com/hyperledger/fabric-lib-go/common/metrics"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	scheme         = "http://"
	metricsSubPath = "/metrics"
	// namespace is the Prometheus namespace every counter minted through
	// this package is registered under; the ordering core has exactly one.
	namespace = "geotxn"
)

// Provider is a prometheus metrics provider scoped to a single registry.
type Provider struct {
	logger   logging.Logger
	registry *prometheus.Registry
	url      string
}

// NewProvider creates a new prometheus metrics provider.
func NewProvider(logger logging.Logger) *Provider {
	return &Provider{logger: logger, registry: prometheus.NewRegistry()}
}

// StartPrometheusServer starts a prometheus server.
// It also starts the given monitoring methods. Their context will cancel once the server is cancelled.
// This method returns once the server is shutdown and all monitoring methods returns.
func (p *Provider) StartPrometheusServer(
	ctx context.Context, listener net.Listener, monitor ...func(context.Context),
) error {
	p.logger.Debugf("Creating prometheus server")
	mux := http.NewServeMux()
	mux.Handle(
		metricsSubPath,
		promhttp.HandlerFor(
			p.Registry(),
			promhttp.HandlerOpts{
				Registry: p.Registry(),
			},
		),
	)
	server := &http.Server{
		ReadTimeout: 30 * time.Second,
		Handler:     mux,
	}

	var err error
	p.url, err = MakeMetricsURL(listener.Addr().String())
	if err != nil {
		return errors.Wrap(err, "failed formatting URL")
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.logger.Infof("Prometheus serving on URL: %s", p.url)
		defer p.logger.Infof("Prometheus stopped serving")
		return server.Serve(listener)
	})

	// The following ensures the method does not return before all monitor methods return.
	for _, m := range monitor {
		g.Go(func() error {
			m(gCtx)
			return nil
		})
	}

	// The following ensures the method does not return before the close procedure is complete.
	stopAfter := context.AfterFunc(ctx, func() {
		go func() error {
			if errClose := server.Close(); errClose != nil {
				return errors.Wrap(errClose, "failed to close prometheus server")
			}
			return nil
		}()
	})
	defer stopAfter()

	if err = g.Wait(); !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "prometheus server stopped with an error")
	}
	return nil
}

// URL returns the prometheus server URL.
func (p *Provider) URL() string {
	return p.url
}

// MakeMetricsURL construct the Prometheus metrics URL.
func MakeMetricsURL(address string) (string, error) {
	return url.JoinPath(scheme, address, metricsSubPath)
}

// NewCounter mints and registers a Counter. o.Namespace is ignored: every
// counter this Provider registers lives under the ordering core's one
// "geotxn" namespace, set here rather than by every call site.
func (p *Provider) NewCounter(o fabmetrics.CounterOpts) fabmetrics.Counter {
	c := &Counter{
		cv: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: o.Subsystem,
				Name:      o.Name,
				Help:      o.Help,
			},
			o.LabelNames,
		),
	}

	p.registry.MustRegister(c.cv)
	return c
}

type Counter struct {
	prometheus.Counter
	cv *prometheus.CounterVec
}

func (c *Counter) With(labelValues ...string) fabmetrics.Counter {
	return &Counter{Counter: c.cv.WithLabelValues(labelValues...)}
}

// Registry returns the prometheus registry.
func (p *Provider) Registry() *prometheus.Registry {
	return p.registry
}

