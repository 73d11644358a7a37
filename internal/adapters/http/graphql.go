package http

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/pkg/geospatial"
)

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	fixedPointType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "FixedPoint",
		Description: "Vertex in circuit units: x = lon * scale, y = lat * scale",
		Fields: graphql.Fields{
			"x": &graphql.Field{Type: graphql.Int},
			"y": &graphql.Field{Type: graphql.Int},
		},
	})

	geoPointInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "GeoPointInput",
		Fields: graphql.InputObjectConfigFieldMap{
			"lat": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.Float)},
			"lon": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.Float)},
		},
	})

	attemptType := graphql.NewObject(graphql.ObjectConfig{
		Name: "ProofAttempt",
		Fields: graphql.Fields{
			"id":               &graphql.Field{Type: graphql.String},
			"geofence_id":      &graphql.Field{Type: graphql.String},
			"contract_address": &graphql.Field{Type: graphql.String},
			"status":           &graphql.Field{Type: graphql.String},
			"failed_stage":     &graphql.Field{Type: graphql.String},
			"category":         &graphql.Field{Type: graphql.String},
			"error":            &graphql.Field{Type: graphql.String},
			"felt_count":       &graphql.Field{Type: graphql.Int},
			"verification":     &graphql.Field{Type: graphql.String},
			"created_at":       &graphql.Field{Type: graphql.DateTime},
			"updated_at":       &graphql.Field{Type: graphql.DateTime},
			"prove_ms": &graphql.Field{
				Type: graphql.Float,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					a, ok := attemptSource(p.Source)
					if !ok {
						return nil, nil
					}
					return float64(a.ProveDuration.Microseconds()) / 1000, nil
				},
			},
			"verify_ms": &graphql.Field{
				Type: graphql.Float,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					a, ok := attemptSource(p.Source)
					if !ok {
						return nil, nil
					}
					return float64(a.VerifyDuration.Microseconds()) / 1000, nil
				},
			},
		},
	})

	geofenceType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Geofence",
		Fields: graphql.Fields{
			"id":               &graphql.Field{Type: graphql.String},
			"name":             &graphql.Field{Type: graphql.String},
			"contract_address": &graphql.Field{Type: graphql.String},
			"scale":            &graphql.Field{Type: graphql.Int},
			"created_at":       &graphql.Field{Type: graphql.DateTime},
			"vertices":         &graphql.Field{Type: graphql.NewList(fixedPointType)},
			"degrees": &graphql.Field{
				Type: graphql.NewList(geoPointType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					f, ok := fenceSource(p.Source)
					if !ok {
						return nil, nil
					}
					return geospatial.PolygonFromFixed(f.Vertices, f.Scale), nil
				},
			},
			"center": &graphql.Field{
				Type: geoPointType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					f, ok := fenceSource(p.Source)
					if !ok {
						return nil, nil
					}
					return f.Center(), nil
				},
			},
			"on_chain_vertices": &graphql.Field{
				Type:        graphql.NewList(fixedPointType),
				Description: "Vertices read from the contract's get_vertices",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					f, ok := fenceSource(p.Source)
					if !ok {
						return nil, nil
					}
					return deps.Geofences.OnChainVertices(p.Context, f.ContractAddress)
				},
			},
			"attempts": &graphql.Field{
				Type: graphql.NewList(attemptType),
				Args: graphql.FieldConfigArgument{
					"limit": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					f, ok := fenceSource(p.Source)
					if !ok || deps.Proofs == nil {
						return nil, nil
					}
					return deps.Proofs.Attempts(p.Context, f.ID, p.Args["limit"].(int))
				},
			},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"geofences": &graphql.Field{
				Type:        graphql.NewList(geofenceType),
				Description: "List registered geofences, newest first",
				Args: graphql.FieldConfigArgument{
					"offset": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 50},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					fences, _, err := deps.Geofences.List(p.Context, p.Args["offset"].(int), p.Args["limit"].(int))
					return fences, err
				},
			},
			"geofence": &graphql.Field{
				Type:        geofenceType,
				Description: "Get a geofence by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Geofences.GetByID(p.Context, p.Args["id"].(string))
				},
			},
			"geofenceByAddress": &graphql.Field{
				Type:        geofenceType,
				Description: "Get the geofence enforced by a verifier contract",
				Args: graphql.FieldConfigArgument{
					"address": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Geofences.GetByAddress(p.Context, p.Args["address"].(string))
				},
			},
			"geofencesNearby": &graphql.Field{
				Type:        graphql.NewList(geofenceType),
				Description: "Find geofences near a location",
				Args: graphql.FieldConfigArgument{
					"lat":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lon":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"radius": &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: 5000.0},
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Geofences.FindNearby(p.Context,
						p.Args["lat"].(float64), p.Args["lon"].(float64),
						p.Args["radius"].(float64), p.Args["limit"].(int))
				},
			},
			"contractVertices": &graphql.Field{
				Type:        graphql.NewList(fixedPointType),
				Description: "Read get_vertices from any verifier contract",
				Args: graphql.FieldConfigArgument{
					"address": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Geofences.OnChainVertices(p.Context, p.Args["address"].(string))
				},
			},
			"attempts": &graphql.Field{
				Type:        graphql.NewList(attemptType),
				Description: "Proof attempt audit log of a geofence",
				Args: graphql.FieldConfigArgument{
					"geofenceId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"limit":      &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Proofs.Attempts(p.Context, p.Args["geofenceId"].(string), p.Args["limit"].(int))
				},
			},
		},
	})

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"registerGeofence": &graphql.Field{
				Type:        geofenceType,
				Description: "Register a polygon (degrees) and the contract enforcing it",
				Args: graphql.FieldConfigArgument{
					"name":            &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"contractAddress": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"vertices":        &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(geoPointInput)))},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					vertices, err := geoPointsArg(p.Args["vertices"])
					if err != nil {
						return nil, err
					}
					return deps.Geofences.Register(p.Context,
						p.Args["name"].(string), p.Args["contractAddress"].(string), vertices)
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:    queryType,
		Mutation: mutationType,
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
		if err := c.BodyParser(&req); err != nil || req.Query == "" {
			return errBadRequest(c, "invalid request body")
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

func fenceSource(src interface{}) (*domain.Geofence, bool) {
	switch f := src.(type) {
	case *domain.Geofence:
		return f, f != nil
	case domain.Geofence:
		return &f, true
	}
	return nil, false
}

func attemptSource(src interface{}) (*domain.ProofAttempt, bool) {
	switch a := src.(type) {
	case *domain.ProofAttempt:
		return a, a != nil
	case domain.ProofAttempt:
		return &a, true
	}
	return nil, false
}

func geoPointsArg(arg interface{}) ([]domain.GeoPoint, error) {
	items, ok := arg.([]interface{})
	if !ok {
		return nil, fmt.Errorf("vertices must be a list")
	}
	out := make([]domain.GeoPoint, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("vertex %d: expected {lat, lon}", i)
		}
		lat, _ := m["lat"].(float64)
		lon, _ := m["lon"].(float64)
		out = append(out, domain.GeoPoint{Lat: lat, Lon: lon})
	}
	return out, nil
}
