// Package harvest defines the core types, collaborator interfaces, and
// error taxonomy shared across the question harvesting subsystems.
package harvest
