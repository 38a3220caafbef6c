// Package mathpro defines the MathPro app: the handwriting widget resource,
// the render_handwriting tool, and the factory that builds a protocol
// server with both registered.
package mathpro
