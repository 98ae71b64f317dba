package httpapi

import (
	"context"
	_ "embed"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	"github.com/jiqinga/strmforge/internal/log"
)

//go:embed openapi_doc.yaml
var openapiSpec []byte

// loadRouter parses the embedded OpenAPI document once at startup. A
// malformed document is a build-time programmer error, so it panics
// rather than degrading into unvalidated request handling.
func loadRouter() routers.Router {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiSpec)
	if err != nil {
		panic("httpapi: cannot parse embedded openapi document: " + err.Error())
	}
	if err := doc.Validate(context.Background()); err != nil {
		panic("httpapi: embedded openapi document is invalid: " + err.Error())
	}
	r, err := legacy.NewRouter(doc)
	if err != nil {
		panic("httpapi: cannot build openapi router: " + err.Error())
	}
	return r
}

// validateRequest validates r against the embedded OpenAPI document
// (mutating routes only; spec §4.10). It never blocks requests whose
// path is not described by the document, since the document only covers
// POST /api/v1/tasks, POST /api/v1/uploads and PUT /api/v1/settings.
func validateRequest(router routers.Router) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := router.FindRoute(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				log.WithComponent("httpapi").Debug().Err(err).Msg("openapi request validation failed")
				writeProblem(w, r, http.StatusBadRequest, "validation_error", "Bad Request", err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
