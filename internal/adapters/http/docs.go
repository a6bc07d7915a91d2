package http

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/wayline/api"
)

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>{{.Title}} {{.Version}} · Swagger UI</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
</head>
<body style="margin:0">
  <div id="swagger-ui"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({url: '/docs/openapi.json', dom_id: '#swagger-ui', deepLinking: true});
  </script>
</body>
</html>`))

// loadOpenAPI parses and validates the embedded API description.
func loadOpenAPI() (*openapi3.T, error) {
	doc, err := openapi3.NewLoader().LoadFromData(api.OpenAPI)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	return doc, nil
}

// SetupDocs registers Swagger UI at /docs and the API description at
// /docs/openapi.yaml (as written) and /docs/openapi.json (as parsed).
func SetupDocs(app *fiber.App) error {
	doc, err := loadOpenAPI()
	if err != nil {
		return err
	}
	asJSON, err := doc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	var page bytes.Buffer
	if err := docsPage.Execute(&page, doc.Info); err != nil {
		return fmt.Errorf("render docs page: %w", err)
	}
	html := page.Bytes()

	app.Get("/docs", func(c *fiber.Ctx) error {
		c.Type("html", "utf-8")
		return c.Send(html)
	})
	app.Get("/docs/openapi.yaml", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "application/yaml")
		return c.Send(api.OpenAPI)
	})
	app.Get("/docs/openapi.json", func(c *fiber.Ctx) error {
		c.Type("json")
		return c.Send(asJSON)
	})
	return nil
}
