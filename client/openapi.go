package client

import _ "embed"

// OpenAPISpec is the OpenAPI 3 description of the authentication contract.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
