package router

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openAPIPath = "../../../public/docs/v1/openapi.yml"

func loadOpenAPI(t *testing.T) *openapi3.T {
	t.Helper()
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(openAPIPath)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))
	return doc
}

func TestOpenAPIDescribesRegisteredRoutes(t *testing.T) {
	doc := loadOpenAPI(t)
	app := newTestApp(t, 10)

	registered := map[string]bool{}
	for _, r := range app.GetRoutes(true) {
		registered[r.Method+" "+r.Path] = true
	}

	require.NotEmpty(t, doc.Servers)
	base := strings.TrimSuffix(doc.Servers[0].URL, "/")
	for path, item := range doc.Paths.Map() {
		for method := range item.Operations() {
			key := strings.ToUpper(method) + " " + base + path
			assert.True(t, registered[key], "route %s is documented but not registered", key)
		}
	}
}

func TestOpenAPICheckoutRequestSchema(t *testing.T) {
	doc := loadOpenAPI(t)
	schema := doc.Components.Schemas["CheckoutRequest"].Value
	require.NotNil(t, schema)

	tests := []struct {
		name    string
		body    map[string]interface{}
		wantErr bool
	}{
		{name: "valid", body: map[string]interface{}{"hoursPerWeek": 40.0, "transferredHoursVerified": 0.0}},
		{name: "missing hours", body: map[string]interface{}{"transferredHoursVerified": 0.0}, wantErr: true},
		{name: "negative transfer", body: map[string]interface{}{"hoursPerWeek": 40.0, "transferredHoursVerified": -1.0}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.VisitJSON(tt.body)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.NotNil(t, doc.Paths.Find("/webhooks/stripe").GetOperation(http.MethodPost))
}
