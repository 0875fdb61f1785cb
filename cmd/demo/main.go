/*
SPDX-License-Identifier: Apache-2.0

Copyright 2025 kubeflux authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command demo wires every kubeflux package behind a single runnable
// controller: it watches ConfigMaps and logs each one reconciled. It is not
// a product; it exists to show the whole stack assembled the way a real
// caller would assemble it, the external collaborators (rest.Config,
// logging, metrics transport) supplied exactly as spec §1/§6 expect.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/relaykit/kubeflux/api"
	"github.com/relaykit/kubeflux/controller"
	"github.com/relaykit/kubeflux/decode"
	"github.com/relaykit/kubeflux/internal/backoff"
	"github.com/relaykit/kubeflux/internal/metrics"
	"github.com/relaykit/kubeflux/runner"
	"github.com/relaykit/kubeflux/transport/restadapter"
)

const metricsShutdownTimeout = 5 * time.Second

func main() {
	var metricsPort int
	flag.IntVar(&metricsPort, "metrics-port", 8080, "The port for the metrics and health server.")
	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	log := zap.New(zap.UseFlagOptions(&opts))
	ctrl.SetLogger(log)
	setupLog := log.WithName("setup")

	rec, shutdown, err := metrics.New()
	if err != nil {
		setupLog.Error(err, "unable to initialize metrics recorder")
		os.Exit(1)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			setupLog.Error(err, "failed to shut down metrics recorder")
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	metricsServer := &http.Server{
		Addr:    ":" + strconv.Itoa(metricsPort),
		Handler: mux,
	}
	go func() {
		setupLog.Info("starting metrics server", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			setupLog.Error(err, "problem running metrics server")
		}
	}()

	cfg := ctrl.GetConfigOrDie()
	adapter, err := restadapter.New(cfg)
	if err != nil {
		setupLog.Error(err, "unable to build transport from rest config")
		os.Exit(1)
	}

	c := controller.New(controller.Config{
		BaseURL:   adapter.BaseURL(),
		Transport: adapter,
		Codec:     decode.JSON{},
		Primary: api.ResourceDescriptor{
			Version:            "v1",
			Plural:             "configmaps",
			Kind:               "ConfigMap",
			Scope:              api.Namespaced,
			BookmarksSupported: true,
		},
		Reconcile: func(_ context.Context, obj api.Object) (runner.Action, error) {
			ref := obj.Metadata()
			setupLog.Info("reconciled", "namespace", ref.Namespace, "name", ref.Name, "resourceVersion", ref.ResourceVersion)
			return runner.Done(), nil
		},
		Backoff: backoff.Default(),
		Log:     log.WithName("controller"),
		Metrics: rec,
	})

	ctx := ctrl.SetupSignalHandler()
	setupLog.Info("starting controller")
	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		setupLog.Error(err, "controller exited with error")
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		setupLog.Error(err, "problem shutting down metrics server")
	}
}
