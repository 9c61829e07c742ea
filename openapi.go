// Package layerbuild holds the HTTP API contract.
package layerbuild

import _ "embed"

// OpenAPIYAML is the OpenAPI 3 document served at /spec.yaml and used to
// validate requests.
//
//go:embed openapi.yaml
var OpenAPIYAML []byte
