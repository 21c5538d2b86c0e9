// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oauth provides the RFC-defined wire types and constants that the
// mcpgate facade speaks: authorization server metadata (RFC 8414 and OpenID
// Connect Discovery) and dynamic client registration (RFC 7591).
package oauth
