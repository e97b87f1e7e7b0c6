package models

// GeofenceType distinguishes circular from polygonal regions.
type GeofenceType string

const (
	GeofenceCircle  GeofenceType = "circle"
	GeofencePolygon GeofenceType = "polygon"
)

// Circle is a circular region defined by a center point and radius.
type Circle struct {
	Center       Location `bson:"center" json:"center"`
	RadiusMeters float64  `bson:"radius_meters" json:"radius_meters"`
}

// Polygon is a closed region defined by an ordered ring of vertices.
type Polygon struct {
	Vertices []Location `bson:"vertices" json:"vertices"`
}

// Geofence is a named region used to detect vehicle entry and exit.
// Immutable reference data owned by the external configuration service.
type Geofence struct {
	ID         string       `bson:"geofence_id" json:"id"`
	CustomerID string       `bson:"customer_id" json:"customer_id"`
	Name       string       `bson:"name" json:"name"`
	Type       GeofenceType `bson:"type" json:"type"`
	Circle     *Circle      `bson:"circle,omitempty" json:"circle,omitempty"`
	Polygon    *Polygon     `bson:"polygon,omitempty" json:"polygon,omitempty"`
}
