// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/mcpgate/pkg/auth"
)

// otherRoute labels every path outside the known set, which keeps the label
// cardinality bounded no matter what clients request.
const otherRoute = "other"

// Middleware records request count, latency and in-flight requests. Paths not
// listed in routes are recorded as "other".
func (m *Metrics) Middleware(routes ...string) func(http.Handler) http.Handler {
	known := slices.Clone(routes)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := otherRoute
			if slices.Contains(known, r.URL.Path) {
				route = r.URL.Path
			}

			m.ActiveRequests.Inc()
			defer m.ActiveRequests.Dec()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// instrumentedVerifier counts verification outcomes.
type instrumentedVerifier struct {
	next    auth.TokenVerifier
	metrics *Metrics
}

// InstrumentVerifier wraps v so every verification is counted by result.
func (m *Metrics) InstrumentVerifier(v auth.TokenVerifier) auth.TokenVerifier {
	return &instrumentedVerifier{next: v, metrics: m}
}

func (iv *instrumentedVerifier) Verify(ctx context.Context, token string) (*auth.Principal, error) {
	p, err := iv.next.Verify(ctx, token)
	iv.metrics.TokenVerifications.WithLabelValues(auth.FailureReason(err)).Inc()
	return p, err
}
