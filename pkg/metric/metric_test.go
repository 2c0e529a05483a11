// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metric

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pt "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounterVecRegisteredOnce(t *testing.T) {
	opts := MetricOpts{Namespace: "accelbmc", Subsystem: "test", Name: "dup_total"}
	a := CounterVec(opts, []string{"kind"})
	b := CounterVec(opts, []string{"kind"})
	a.WithLabelValues("x").Inc()
	b.WithLabelValues("x").Inc()
	if v := pt.ToFloat64(a.WithLabelValues("x")); v != 2 {
		t.Errorf("Expected both handles to share one counter, value was %v", v)
	}
}

func TestStartMetrics(t *testing.T) {
	Gauge(MetricOpts{Namespace: "accelbmc", Subsystem: "test", Name: "answer"}, func() float64 { return 42 })
	mux := http.NewServeMux()
	StartMetrics(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "accelbmc_test_answer 42") {
		t.Errorf("Gauge missing from /metrics output")
	}
}
