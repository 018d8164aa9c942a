// Package fieldmask models the irradiation field of a control point on the
// isocentric plane.
//
// A Shape (Rect, Ellipse or a leaf-defined Polygon) is sampled into a Mask
// point cloud by GeneratePlanMask. A Projector built over a filled mask
// projects 3-D positions from the source onto the plane, tests field
// membership and finds the nearest mask point with a k-d tree.
package fieldmask
