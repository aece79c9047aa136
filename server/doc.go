// Package server exposes rbkv over HTTP.
//
// The server holds any number of namespaces. Each namespace is a local store
// on its own rbidx index whose set name is the namespace name, so equal keys
// in different namespaces never share a digest. All indexes share one value
// lock table sized by the configuration.
//
// Routes:
//
//	GET    /ns                  sorted JSON list of all namespaces
//	GET    /ns/{ns}             JSON list of {digest, value} in digest order
//	GET    /ns/{ns}/{key...}    value bytes, 404 if missing
//	PUT    /ns/{ns}/{key...}    store the body, 204; with ?ifunset=true 201 or 409
//	DELETE /ns/{ns}/{key...}    204, 404 if missing
//	GET    /info/{ns}           JSON database info
//	GET    /metrics             Prometheus metrics
//
// Namespaces are created on the first PUT. Store errors are mapped onto status
// codes by their return code (NotFound 404, UnsupportedOperation 501,
// InvalidOperation 400, everything else 500).
//
// With a snapshot directory configured every namespace is written to
// <dir>/<ns>.rbidx when Serve returns and LoadSnapshots restores them.
package server
