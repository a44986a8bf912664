// Package openapi carries the service's embedded API contract.
package openapi

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed contract.yaml
var spec []byte

// Spec returns the raw embedded contract document.
func Spec() []byte {
	return spec
}

// Validate parses the embedded contract and verifies it is a well-formed
// OpenAPI 3 document. Run at startup so a broken contract fails fast rather
// than being served.
func Validate(ctx context.Context) error {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	doc, err := loader.LoadFromData(spec)
	if err != nil {
		return fmt.Errorf("openapi: parse contract: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return fmt.Errorf("openapi: validate contract: %w", err)
	}
	return nil
}
