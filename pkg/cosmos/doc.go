// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package cosmos is a small client for the Azure Cosmos DB SQL REST API. It
// covers what the proxy needs: idempotent database and collection
// provisioning, document creation, and queries that are paged through to
// completion. Requests are signed with the account master key.
package cosmos
