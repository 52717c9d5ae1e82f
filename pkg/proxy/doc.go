// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package proxy exposes a small REST surface over a Cosmos DB collection.
// POST /items stores the request body as a new document and GET /items lists
// every document; the database and collection are provisioned on first use.
// Every failure is reported as a 500 carrying the error text.
package proxy
