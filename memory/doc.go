// Package memory manages the lifecycle of agent memory records: text
// content plus an embedding plus structured metadata, grouped by room.
//
// The Manager owns the only non-trivial rules in the system:
//   - metadata schema validation over closed type/scope enumerations
//   - default-metadata derivation from ownership and configuration
//   - embedding enforcement with a degraded fallback vector
//   - idempotent creation keyed by record ID
//   - type-to-table routing (document/fragment -> knowledge,
//     message -> messages, fact -> facts)
//   - read/delete/count passthrough with a cross-agent ownership filter
//
// Persistence and embedding stay behind interfaces:
//   - Store: chromem (embedded vector database) or sqlite (persistent)
//   - Embedder: mock (testing), onnx (local model), cache (ristretto
//     decorator over another Embedder)
package memory
