// Package cloudrelay is the cross-cloud data plane for a multi-cloud IoT
// digital-twin platform. Device telemetry enters on one cloud and flows
// through a tiered pipeline whose tiers may be provisioned on different
// providers; cloudrelay moves the data across those seams.
//
// # Tiers and boundaries
//
// The pipeline has four tiers. Ingestion (l1) receives raw device
// events, compute (l2) normalizes and persists them, storage (l3) holds
// them in hot, cold, and archive stages, and twin management (l4) serves
// reads and live state:
//
//	device ──► l1 ingestion ──► l2 compute ──► l3 hot ──► l3 cold ──► l3 archive
//	                                │                │
//	                                └────► l4 twin ◄─┘ (queries, live feed)
//
// Each arrow is a boundary. A boundary whose two sides run in the same
// cloud is crossed by a direct call; one whose sides run in different
// clouds is crossed by an HTTP relay carrying a shared-secret token.
// The boundary package makes that decision per boundary from the
// deployment's provider assignments, so re-provisioning a tier onto
// another cloud needs no code change.
//
// # Packages
//
// Crossing machinery:
//   - boundary: provider assignments and local-versus-remote detection
//   - envelope: the wire format every cross-boundary payload travels in
//   - relay: outbound HTTP client with bounded retry, and the shared
//     inbound endpoint plumbing (token check, body limits, decoding)
//   - chunk: splits item batches into bounded chunks for transfer
//
// Pipeline tiers:
//   - dispatcher, connector: ingestion-tier routing of device events
//   - ingestion, processor: compute-tier receive, normalize, persist
//   - writer: receiving ends of the storage boundaries, including
//     multipart archive assembly
//   - reader: hot-tier queries, twin state, and the websocket feed
//   - mover: retention-driven hot-to-cold and cold-to-archive movement
//
// Storage and infrastructure:
//   - store: tier storage interfaces with JetStream and DynamoDB
//     implementations plus in-memory fakes
//   - config, gateway, health, metric, errors, natsclient: the ambient
//     service plumbing shared by every deployment
//
// One binary, cmd/cloudrelay, serves every tier; which endpoints and
// movers a process runs follows from its configuration.
package cloudrelay
