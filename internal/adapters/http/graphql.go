package http

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/wayline/internal/core/domain"
)

// geoJSONScalar passes decoded GeoJSON through unchanged.
var geoJSONScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "GeoJSON",
	Description: "A GeoJSON object (geometry or FeatureCollection)",
	Serialize:   func(value interface{}) interface{} { return value },
})

// resolveError turns a usecase error into the public GraphQL error. Not
// found lookups resolve to null rather than an error.
func resolveError(p graphql.ResolveParams, err error, msgs messages, logMsg string) (interface{}, error) {
	status, msg := classify(err, msgs)
	if status == fiber.StatusNotFound {
		return nil, nil
	}
	if status >= fiber.StatusInternalServerError {
		LoggerFromCtx(p.Context).Error(logMsg, "error", err.Error())
	}
	return nil, errors.New(msg)
}

// decodeJSON turns raw JSON into a value the GeoJSON scalar can serialise.
func decodeJSON(raw []byte) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	placeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Place",
		Fields: graphql.Fields{
			"lat":     &graphql.Field{Type: graphql.Float},
			"lng":     &graphql.Field{Type: graphql.Float},
			"address": &graphql.Field{Type: graphql.String},
		},
	})

	nearestAddressType := graphql.NewObject(graphql.ObjectConfig{
		Name: "NearestAddress",
		Fields: graphql.Fields{
			"lat":     &graphql.Field{Type: graphql.Float},
			"lon":     &graphql.Field{Type: graphql.Float},
			"address": &graphql.Field{Type: graphql.String},
			"distanceM": &graphql.Field{
				Type:        graphql.Float,
				Description: "Great-circle distance from the query point in metres",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if a, ok := p.Source.(*domain.NearestAddress); ok {
						return a.DistanceM, nil
					}
					return nil, nil
				},
			},
		},
	})

	coordinatesType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Coordinates",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"route": &graphql.Field{
				Type:        geoJSONScalar,
				Description: "Driving route geometry between two lon,lat points",
				Args: graphql.FieldConfigArgument{
					"from": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"to":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					from, _ := p.Args["from"].(string)
					to, _ := p.Args["to"].(string)
					geometry, err := deps.Routes.Route(p.Context, from, to)
					if err != nil {
						return resolveError(p, err, routeMessages, "route lookup failed")
					}
					return decodeJSON(geometry)
				},
			},
			"geocode": &graphql.Field{
				Type:        placeType,
				Description: "Best match for a free-text address, or null",
				Args: graphql.FieldConfigArgument{
					"q": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					q, _ := p.Args["q"].(string)
					res, err := deps.Geocoding.Geocode(p.Context, q)
					if err != nil {
						return resolveError(p, err, geocodeMessages, "geocoding failed")
					}
					return res, nil
				},
			},
			"reverseGeocode": &graphql.Field{
				Type:        placeType,
				Description: "Best address for a coordinate, or null",
				Args: graphql.FieldConfigArgument{
					"lat": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"lng": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					lat, _ := p.Args["lat"].(string)
					lng, _ := p.Args["lng"].(string)
					res, err := deps.Geocoding.ReverseGeocode(p.Context, lat, lng)
					if err != nil {
						return resolveError(p, err, reverseGeocodeMessages, "reverse geocoding failed")
					}
					return res, nil
				},
			},
			"nearestAddress": &graphql.Field{
				Type:        nearestAddressType,
				Description: "Closest address in the local table, or null",
				Args: graphql.FieldConfigArgument{
					"lat": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"lon": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					lat, _ := p.Args["lat"].(string)
					lon, _ := p.Args["lon"].(string)
					res, err := deps.Addresses.Nearest(p.Context, lat, lon)
					if err != nil {
						return resolveError(p, err, nearestAddressMessages, "nearest address lookup failed")
					}
					return res, nil
				},
			},
			"addressCoordinates": &graphql.Field{
				Type:        coordinatesType,
				Description: "Stored coordinates of an exact address, or null",
				Args: graphql.FieldConfigArgument{
					"address": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					address, _ := p.Args["address"].(string)
					res, err := deps.Addresses.Locate(p.Context, address)
					if err != nil {
						return resolveError(p, err, addressMessages, "address lookup failed")
					}
					return res, nil
				},
			},
			"roads": &graphql.Field{
				Type:        geoJSONScalar,
				Description: "Road lines as a GeoJSON FeatureCollection",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					fc, err := deps.Roads.Roads(p.Context)
					if err != nil {
						LoggerFromCtx(p.Context).Error("road query failed", "error", err.Error())
						return nil, errors.New(msgRoadsFailed)
					}
					raw, err := json.Marshal(fc)
					if err != nil {
						return nil, errors.New(msgRoadsFailed)
					}
					return decodeJSON(raw)
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
