package http

import (
	"github.com/gofiber/fiber/v2"
)

// RouteHandler returns the driving route geometry between two "lon,lat" points.
// GET /api/route?from=-2.935,43.263&to=-2.923,43.257
func RouteHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		geometry, err := deps.Routes.Route(c.UserContext(), c.Query("from"), c.Query("to"))
		if err != nil {
			return errText(c, err, routeMessages, "route lookup failed")
		}

		c.Type("json", "utf-8")
		return c.Send(geometry)
	}
}

// GeocodeHandler resolves free text to the best matching coordinate.
// GET /api/geocode?q=Plaza+Moyua
func GeocodeHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := deps.Geocoding.Geocode(c.UserContext(), c.Query("q"))
		if err != nil {
			return errText(c, err, geocodeMessages, "geocoding failed")
		}
		return c.JSON(res)
	}
}

// ReverseGeocodeHandler resolves a coordinate to a formatted address.
// GET /api/reverse-geocode?lat=43.263&lng=-2.935
func ReverseGeocodeHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := deps.Geocoding.ReverseGeocode(c.UserContext(), c.Query("lat"), c.Query("lng"))
		if err != nil {
			return errText(c, err, reverseGeocodeMessages, "reverse geocoding failed")
		}
		return c.JSON(fiber.Map{"address": res.Address})
	}
}

// RoadsHandler returns road lines from the spatial store as a FeatureCollection.
func RoadsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fc, err := deps.Roads.Roads(c.UserContext())
		if err != nil {
			LoggerFromCtx(c.UserContext()).Error("road query failed", "error", err.Error())
			return c.Status(fiber.StatusInternalServerError).JSON(roadsErrorBody)
		}
		return c.JSON(fc)
	}
}

// NearestAddressHandler returns the closest address in the local table.
// GET /api/nearest-address?lat=43.263&lon=-2.935
func NearestAddressHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := deps.Addresses.Nearest(c.UserContext(), c.Query("lat"), c.Query("lon"))
		if err != nil {
			return errText(c, err, nearestAddressMessages, "nearest address lookup failed")
		}
		return c.JSON(res)
	}
}

// AddressCoordinatesHandler returns the stored coordinates of an exact address.
// GET /api/address-coordinates?address=Plaza+Moyua
func AddressCoordinatesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		a, err := deps.Addresses.Locate(c.UserContext(), c.Query("address"))
		if err != nil {
			return errText(c, err, addressMessages, "address lookup failed")
		}
		return c.JSON(fiber.Map{"lat": a.Lat, "lon": a.Lon})
	}
}
