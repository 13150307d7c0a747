package schema

import _ "embed"

// ConfigV1Schema contains the JSON schema for the supervisor's config file.
//
//go:embed config.v1.json
var ConfigV1Schema []byte
