// Package geometry implements the pure, stateless WGS-84 geometry kernel:
// distance, bounding boxes, containment, intersection and volume for the
// Sphere and Polygon geometry variants.
package geometry

import (
	"math"

	"github.com/mrs-federation/server/internal/apperr"
)

// earthRadiusMeters is the WGS-84 mean radius used for surface distance and
// bbox degree conversions.
const earthRadiusMeters = 6_371_000.0

// Coordinate is a WGS-84 point in degrees (lat/lon) and meters (elevation).
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Ele float64 `json:"ele"`
}

// Kind discriminates the Geometry tagged variant.
type Kind string

const (
	KindSphere  Kind = "sphere"
	KindPolygon Kind = "polygon"
)

// Geometry is a tagged variant: either a Sphere or a Polygon. Exactly one of
// Sphere/Polygon is populated, selected by Kind.
type Geometry struct {
	Kind    Kind     `json:"type"`
	Sphere  *Sphere  `json:"sphere,omitempty"`
	Polygon *Polygon `json:"polygon,omitempty"`
}

// Sphere is a geometry variant: a ball of the given radius around a center.
type Sphere struct {
	Center Coordinate `json:"center"`
	Radius float64    `json:"radius"`
}

// Polygon is a geometry variant: a footprint extruded vertically by Height
// starting at the minimum vertex elevation.
type Polygon struct {
	Vertices []Coordinate `json:"vertices"`
	Height   float64      `json:"height"`
}

// BoundingBox is the axis-aligned envelope of a Geometry, used for coarse
// index lookups. Wraps is true when the box straddles the antimeridian, in
// which case the box is the union of [MinLon,180] and [-180,MaxLon].
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
	Wraps  bool    `json:"wraps"`
}

// Validate checks structural validity of a Geometry per the data model.
func (g Geometry) Validate() error {
	switch g.Kind {
	case KindSphere:
		if g.Sphere == nil {
			return apperr.New(apperr.InvalidGeometry, "sphere geometry missing sphere body")
		}
		return g.Sphere.Validate()
	case KindPolygon:
		if g.Polygon == nil {
			return apperr.New(apperr.InvalidGeometry, "polygon geometry missing polygon body")
		}
		return g.Polygon.Validate()
	default:
		return apperr.Newf(apperr.InvalidGeometry, "unsupported geometry type %q", g.Kind)
	}
}

// Validate checks the Sphere's radius bound and coordinate range.
func (s Sphere) Validate() error {
	if err := validateCoordinate(s.Center); err != nil {
		return err
	}
	if !(s.Radius > 0 && s.Radius <= 1_000_000) {
		return apperr.Newf(apperr.InvalidGeometry, "sphere radius %.3f out of range (0, 1000000]", s.Radius)
	}
	return nil
}

// Validate checks the Polygon's vertex count and coordinate ranges.
func (p Polygon) Validate() error {
	if len(p.Vertices) < 3 {
		return apperr.Newf(apperr.InvalidGeometry, "polygon requires at least 3 vertices, got %d", len(p.Vertices))
	}
	if p.Height < 0 {
		return apperr.New(apperr.InvalidGeometry, "polygon height must be >= 0")
	}
	for _, v := range p.Vertices {
		if err := validateCoordinate(v); err != nil {
			return err
		}
	}
	return nil
}

// ValidateCoordinate checks that c's lat/lon fall within WGS-84 range.
func ValidateCoordinate(c Coordinate) error {
	return validateCoordinate(c)
}

func validateCoordinate(c Coordinate) error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || math.IsNaN(c.Ele) {
		return apperr.New(apperr.InvalidGeometry, "coordinate contains NaN")
	}
	if c.Lat < -90 || c.Lat > 90 {
		return apperr.Newf(apperr.InvalidGeometry, "latitude %.6f out of range [-90,90]", c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return apperr.Newf(apperr.InvalidGeometry, "longitude %.6f out of range [-180,180]", c.Lon)
	}
	return nil
}

// Distance returns the 3-D distance in meters between two coordinates:
// great-circle surface distance combined with elevation delta.
func Distance(a, b Coordinate) float64 {
	surface := surfaceDistance(a, b)
	dEle := a.Ele - b.Ele
	return math.Sqrt(surface*surface + dEle*dEle)
}

// surfaceDistance is the haversine great-circle distance in meters, ignoring
// elevation.
func surfaceDistance(a, b Coordinate) float64 {
	lat1 := degToRad(a.Lat)
	lat2 := degToRad(b.Lat)
	dLat := degToRad(b.Lat - a.Lat)
	dLon := degToRad(b.Lon - a.Lon)

	sinDLat := math.Sin(dLat / 2)
	sinDLon := math.Sin(dLon / 2)
	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLon*sinDLon
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

func degToRad(deg float64) float64 { return deg * math.Pi / 180 }
func radToDeg(rad float64) float64 { return rad * 180 / math.Pi }

// Bbox computes the bounding box of a geometry per the §4.G conversion
// rules: spheres convert radius to lat/lon degree deltas with pole-clamping
// and antimeridian wrap; polygons take componentwise vertex extrema.
func Bbox(g Geometry) BoundingBox {
	switch g.Kind {
	case KindSphere:
		return sphereBbox(*g.Sphere)
	case KindPolygon:
		return polygonBbox(*g.Polygon)
	default:
		return BoundingBox{}
	}
}

func sphereBbox(s Sphere) BoundingBox {
	return radiusBbox(s.Center, s.Radius)
}

// radiusBbox computes the bbox of a circle of the given radius (meters)
// centered at center — shared by sphere geometry bbox and by the query bbox
// used for a range search.
func radiusBbox(center Coordinate, radius float64) BoundingBox {
	latDelta := radToDeg(radius / earthRadiusMeters)

	minLat := center.Lat - latDelta
	maxLat := center.Lat + latDelta

	poleClamped := false
	if minLat < -90 {
		minLat = -90
		poleClamped = true
	}
	if maxLat > 90 {
		maxLat = 90
		poleClamped = true
	}

	if poleClamped {
		return BoundingBox{MinLat: minLat, MaxLat: maxLat, MinLon: -180, MaxLon: 180, Wraps: false}
	}

	// Widen by the latitude with the smallest cosine (largest longitude
	// delta) among the two bounding parallels, to stay conservative.
	cosLat := math.Min(math.Cos(degToRad(minLat)), math.Cos(degToRad(maxLat)))
	if cosLat < 1e-12 {
		return BoundingBox{MinLat: minLat, MaxLat: maxLat, MinLon: -180, MaxLon: 180, Wraps: false}
	}
	lonDelta := radToDeg(radius/earthRadiusMeters) / cosLat

	minLon := center.Lon - lonDelta
	maxLon := center.Lon + lonDelta

	return normalizeLonBbox(minLat, maxLat, minLon, maxLon)
}

// normalizeLonBbox wraps minLon/maxLon into [-180,180] and sets Wraps when
// the box straddles the antimeridian.
func normalizeLonBbox(minLat, maxLat, minLon, maxLon float64) BoundingBox {
	if maxLon-minLon > 180 {
		// Degenerate: circle larger than the globe's longitude extent at
		// this latitude. Treat as full longitude range.
		return BoundingBox{MinLat: minLat, MaxLat: maxLat, MinLon: -180, MaxLon: 180, Wraps: false}
	}

	wraps := minLon < -180 || maxLon > 180
	minLon = wrapLon(minLon)
	maxLon = wrapLon(maxLon)
	if wraps && minLon <= maxLon {
		// Numerically degenerated to a non-wrapping box after normalization;
		// keep the wrap flag only when min > max post-normalization.
		wraps = false
	} else if minLon > maxLon {
		wraps = true
	}

	return BoundingBox{MinLat: minLat, MaxLat: maxLat, MinLon: minLon, MaxLon: maxLon, Wraps: wraps}
}

func wrapLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

func polygonBbox(p Polygon) BoundingBox {
	minLat, maxLat := p.Vertices[0].Lat, p.Vertices[0].Lat
	minLon, maxLon := p.Vertices[0].Lon, p.Vertices[0].Lon
	for _, v := range p.Vertices[1:] {
		minLat = math.Min(minLat, v.Lat)
		maxLat = math.Max(maxLat, v.Lat)
		minLon = math.Min(minLon, v.Lon)
		maxLon = math.Max(maxLon, v.Lon)
	}
	wraps := maxLon-minLon > 180
	return BoundingBox{MinLat: minLat, MaxLat: maxLat, MinLon: minLon, MaxLon: maxLon, Wraps: wraps}
}

// ContainsPoint reports whether geometry g contains point p.
func ContainsPoint(g Geometry, p Coordinate) bool {
	switch g.Kind {
	case KindSphere:
		return Distance(g.Sphere.Center, p) <= g.Sphere.Radius
	case KindPolygon:
		return polygonContains(*g.Polygon, p)
	default:
		return false
	}
}

func minVertexElevation(p Polygon) float64 {
	m := p.Vertices[0].Ele
	for _, v := range p.Vertices[1:] {
		m = math.Min(m, v.Ele)
	}
	return m
}

func polygonContains(p Polygon, pt Coordinate) bool {
	minEle := minVertexElevation(p)
	if pt.Ele < minEle || pt.Ele > minEle+p.Height {
		return false
	}
	return pointInPolygon2D(p.Vertices, pt)
}

// pointInPolygon2D is the standard ray-casting algorithm over lon/lat
// treated as planar x/y (equirectangular, adequate at registration scale).
func pointInPolygon2D(vertices []Coordinate, pt Coordinate) bool {
	inside := false
	n := len(vertices)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := vertices[i], vertices[j]
		intersects := (vi.Lat > pt.Lat) != (vj.Lat > pt.Lat) &&
			pt.Lon < (vj.Lon-vi.Lon)*(pt.Lat-vi.Lat)/(vj.Lat-vi.Lat)+vi.Lon
		if intersects {
			inside = !inside
		}
	}
	return inside
}

// Intersects reports whether geometry g intersects the query sphere defined
// by center and range (meters).
func Intersects(g Geometry, center Coordinate, rangeM float64) bool {
	switch g.Kind {
	case KindSphere:
		return Distance(g.Sphere.Center, center) <= g.Sphere.Radius+rangeM
	case KindPolygon:
		return distanceToPrism(*g.Polygon, center) <= rangeM
	default:
		return false
	}
}

// DistanceToNearestSurface returns the distance from pt to the nearest
// surface of geometry g: for a sphere, distance to center minus radius
// (clamped at 0 when inside); for a polygon, distance to the extruded prism.
func DistanceToNearestSurface(g Geometry, pt Coordinate) float64 {
	switch g.Kind {
	case KindSphere:
		d := Distance(g.Sphere.Center, pt) - g.Sphere.Radius
		if d < 0 {
			return 0
		}
		return d
	case KindPolygon:
		return distanceToPrism(*g.Polygon, pt)
	default:
		return math.Inf(1)
	}
}

// distanceToPrism returns the distance from pt to the extruded polygon
// prism: 0 if pt's projection is inside the footprint and its elevation is
// within the extrusion band; otherwise the planar distance to the nearest
// edge combined with any elevation overshoot.
func distanceToPrism(p Polygon, pt Coordinate) float64 {
	minEle := minVertexElevation(p)
	eleOvershoot := 0.0
	if pt.Ele < minEle {
		eleOvershoot = minEle - pt.Ele
	} else if pt.Ele > minEle+p.Height {
		eleOvershoot = pt.Ele - (minEle + p.Height)
	}

	if pointInPolygon2D(p.Vertices, pt) {
		return eleOvershoot
	}

	planar := nearestEdgeDistance(p.Vertices, pt)
	return math.Sqrt(planar*planar + eleOvershoot*eleOvershoot)
}

func nearestEdgeDistance(vertices []Coordinate, pt Coordinate) float64 {
	best := math.Inf(1)
	n := len(vertices)
	for i := 0; i < n; i++ {
		a := vertices[i]
		b := vertices[(i+1)%n]
		d := distanceToSegment(a, b, pt)
		if d < best {
			best = d
		}
	}
	return best
}

// distanceToSegment is the great-circle distance from pt to its nearest
// point on segment a-b, approximated by projecting onto the planar
// lat/lon segment (adequate at the scale of a single registration) and
// converting the planar offset back to meters via Distance.
func distanceToSegment(a, b, pt Coordinate) float64 {
	// Project in lat/lon space.
	abLat := b.Lat - a.Lat
	abLon := b.Lon - a.Lon
	lenSq := abLat*abLat + abLon*abLon
	if lenSq == 0 {
		return Distance(a, pt)
	}
	t := ((pt.Lat-a.Lat)*abLat + (pt.Lon-a.Lon)*abLon) / lenSq
	t = math.Max(0, math.Min(1, t))
	proj := Coordinate{Lat: a.Lat + t*abLat, Lon: a.Lon + t*abLon, Ele: pt.Ele}
	return Distance(proj, pt)
}

// Volume returns the ordering volume of a geometry: sphere volume, or
// footprint-area times height for a polygon.
func Volume(g Geometry) float64 {
	switch g.Kind {
	case KindSphere:
		r := g.Sphere.Radius
		return (4.0 / 3.0) * math.Pi * r * r * r
	case KindPolygon:
		return polygonFootprintArea(*g.Polygon) * g.Polygon.Height
	default:
		return 0
	}
}

// polygonFootprintArea computes the shoelace area in square meters over an
// equirectangular projection centered at the polygon's centroid.
func polygonFootprintArea(p Polygon) float64 {
	var centroidLat, centroidLon float64
	for _, v := range p.Vertices {
		centroidLat += v.Lat
		centroidLon += v.Lon
	}
	n := float64(len(p.Vertices))
	centroidLat /= n
	centroidLon /= n

	cosLat := math.Cos(degToRad(centroidLat))
	type xy struct{ x, y float64 }
	pts := make([]xy, len(p.Vertices))
	for i, v := range p.Vertices {
		x := degToRad(v.Lon-centroidLon) * cosLat * earthRadiusMeters
		y := degToRad(v.Lat-centroidLat) * earthRadiusMeters
		pts[i] = xy{x, y}
	}

	var sum float64
	for i := range pts {
		j := (i + 1) % len(pts)
		sum += pts[i].x*pts[j].y - pts[j].x*pts[i].y
	}
	return math.Abs(sum) / 2
}

// QueryBbox computes the bbox of a range search around center — identical
// math to a sphere's bbox.
func QueryBbox(center Coordinate, rangeM float64) BoundingBox {
	return radiusBbox(center, rangeM)
}
