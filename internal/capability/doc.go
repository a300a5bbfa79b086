// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package capability decides whether a model accepts images (vision) and
// whether it favors extended reasoning.
//
// Answers come from a Cache first, then from versioned name Heuristics.
// DetectCapabilities asks the runtime's /api/show endpoint for an
// authoritative verdict; authoritative entries go stale after an hour and are
// refreshed in the background while the stale value is still served.
package capability
