// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package schema validates the JSON body of a publish request against
the shape cargo's publish API promises before the registry attempts to
decode it into a Go struct. Structural problems (wrong types, missing
required fields) are reported as schema violations here; the
name-specific rules that PublishedPackage's own UnmarshalJSON enforces
(ASCII charset, leading letter, length) run afterwards, on a value that
is already known to have the right shape.
*/
package schema

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/published_package.json
var schemaFS embed.FS

const publishedPackageSchemaID = "https://cargoregistry.internal/schemas/published-package.json"

// PublishedPackageValidator validates raw publish-request JSON bodies
// against the published-package schema.
type PublishedPackageValidator struct {
	schema *gojsonschema.Schema
}

// NewPublishedPackageValidator compiles the embedded schema once at
// startup; it is safe to share across goroutines.
func NewPublishedPackageValidator() (*PublishedPackageValidator, error) {
	raw, err := schemaFS.ReadFile("schemas/published_package.json")
	if err != nil {
		return nil, fmt.Errorf("schema: read embedded schema: %w", err)
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("schema: compile published-package schema: %w", err)
	}
	return &PublishedPackageValidator{schema: compiled}, nil
}

// Validate reports a descriptive error if raw does not conform to the
// published-package schema. A nil error means raw is shaped correctly;
// it says nothing about the field-level rules PublishedPackage itself
// enforces during decoding.
func (v *PublishedPackageValidator) Validate(raw []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("schema %s: %w", publishedPackageSchemaID, err)
	}
	if result.Valid() {
		return nil
	}
	var messages []string
	for _, e := range result.Errors() {
		messages = append(messages, e.String())
	}
	return errors.New(strings.Join(messages, "; "))
}
