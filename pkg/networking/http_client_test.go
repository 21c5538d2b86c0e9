// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRoundTripper struct {
	called bool
	req    *http.Request
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.called = true
	m.req = req
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("OK")),
	}, nil
}

func TestNewHttpClientBuilder(t *testing.T) {
	t.Parallel()

	builder := NewHttpClientBuilder()

	assert.Equal(t, HttpTimeout, builder.clientTimeout)
	assert.Equal(t, 10*time.Second, builder.tlsHandshakeTimeout)
	assert.Equal(t, 10*time.Second, builder.responseHeaderTimeout)
	assert.Empty(t, builder.caCertPath)
	assert.False(t, builder.allowPrivate)
	assert.False(t, builder.allowHTTP)
}

func TestHttpClientBuilder_Fluent(t *testing.T) {
	t.Parallel()

	builder := NewHttpClientBuilder()
	assert.Same(t, builder, builder.WithCABundle("/ca.crt"))
	assert.Same(t, builder, builder.WithPrivateIPs(true))
	assert.Same(t, builder, builder.WithInsecureHTTP(true))
	assert.Same(t, builder, builder.WithUserAgent("mcpgate/test"))
	assert.Same(t, builder, builder.WithTimeout(5*time.Second))

	assert.Equal(t, "/ca.crt", builder.caCertPath)
	assert.True(t, builder.allowPrivate)
	assert.True(t, builder.allowHTTP)
	assert.Equal(t, "mcpgate/test", builder.userAgent)
	assert.Equal(t, 5*time.Second, builder.clientTimeout)
}

func TestHttpClientBuilder_Build(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		builder        func(t *testing.T) *HttpClientBuilder
		errorContains  string
		validateClient func(t *testing.T, client *http.Client)
	}{
		{
			name:    "defaults",
			builder: func(_ *testing.T) *HttpClientBuilder { return NewHttpClientBuilder() },
			validateClient: func(t *testing.T, client *http.Client) {
				t.Helper()
				assert.Equal(t, HttpTimeout, client.Timeout)
				vt, ok := client.Transport.(*ValidatingTransport)
				require.True(t, ok)
				assert.False(t, vt.AllowHTTP)
				assert.NotNil(t, vt.Transport.(*http.Transport).DialContext)
			},
		},
		{
			name: "private IPs allowed leaves default dialer",
			builder: func(_ *testing.T) *HttpClientBuilder {
				return NewHttpClientBuilder().WithPrivateIPs(true)
			},
			validateClient: func(t *testing.T, client *http.Client) {
				t.Helper()
				vt := client.Transport.(*ValidatingTransport)
				assert.Nil(t, vt.Transport.(*http.Transport).DialContext)
			},
		},
		{
			name: "user agent wraps validating transport",
			builder: func(_ *testing.T) *HttpClientBuilder {
				return NewHttpClientBuilder().WithUserAgent("mcpgate/test")
			},
			validateClient: func(t *testing.T, client *http.Client) {
				t.Helper()
				ua, ok := client.Transport.(*userAgentTransport)
				require.True(t, ok)
				assert.IsType(t, &ValidatingTransport{}, ua.transport)
			},
		},
		{
			name: "invalid CA bundle",
			builder: func(t *testing.T) *HttpClientBuilder {
				t.Helper()
				path := filepath.Join(t.TempDir(), "invalid-ca.crt")
				require.NoError(t, os.WriteFile(path, []byte("invalid cert data"), 0o600))
				return NewHttpClientBuilder().WithCABundle(path)
			},
			errorContains: "failed to parse CA certificate bundle",
		},
		{
			name: "missing CA bundle",
			builder: func(_ *testing.T) *HttpClientBuilder {
				return NewHttpClientBuilder().WithCABundle("/nonexistent/ca.crt")
			},
			errorContains: "failed to read CA certificate bundle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, err := tt.builder(t).Build()
			if tt.errorContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
				assert.Nil(t, client)
				return
			}
			require.NoError(t, err)
			tt.validateClient(t, client)
		})
	}
}

func TestValidatingTransport_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		url           string
		allowHTTP     bool
		errorContains string
	}{
		{name: "https accepted", url: "https://idp.example.com/certs"},
		{name: "http rejected by default", url: "http://idp.example.com/certs", errorContains: "is not HTTPS scheme"},
		{name: "http accepted when allowed", url: "http://localhost:8080/certs", allowHTTP: true},
		{name: "other scheme rejected", url: "ftp://idp.example.com/certs", allowHTTP: true, errorContains: "unsupported scheme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			inner := &mockRoundTripper{}
			transport := &ValidatingTransport{Transport: inner, AllowHTTP: tt.allowHTTP}

			req, err := http.NewRequest(http.MethodGet, tt.url, nil)
			require.NoError(t, err)

			resp, err := transport.RoundTrip(req)
			if tt.errorContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
				assert.False(t, inner.called)
				return
			}
			require.NoError(t, err)
			_ = resp.Body.Close()
			assert.True(t, inner.called)
		})
	}
}

func TestUserAgentTransport(t *testing.T) {
	t.Parallel()

	inner := &mockRoundTripper{}
	transport := &userAgentTransport{transport: inner, userAgent: "mcpgate/1.0"}

	req := httptest.NewRequest(http.MethodGet, "https://idp.example.com/", nil)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "mcpgate/1.0", inner.req.Header.Get("User-Agent"))
	assert.Empty(t, req.Header.Get("User-Agent"), "original request must not be mutated")

	req = httptest.NewRequest(http.MethodGet, "https://idp.example.com/", nil)
	req.Header.Set("User-Agent", "custom")
	resp, err = transport.RoundTrip(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "custom", inner.req.Header.Get("User-Agent"))
}

func TestAddressReferencesPrivateIp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		address string
		private bool
	}{
		{"127.0.0.1:8080", true},
		{"10.1.2.3:443", true},
		{"172.20.0.1:443", true},
		{"192.168.1.10:443", true},
		{"[::1]:443", true},
		{"0.0.0.0:80", true},
		{"8.8.8.8:443", false},
		{"[2001:4860:4860::8888]:443", false},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			t.Parallel()
			err := AddressReferencesPrivateIp(tt.address)
			if tt.private {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Error(t, AddressReferencesPrivateIp("no-port"))
	assert.True(t, IsPrivateIP(net.ParseIP("169.254.1.1")))
}
