// Package permission implements the tenant-scoped capability check.
//
// Roles are ranked. A grant satisfies a requirement when it belongs to the
// requested tenant and its role ranks at or above the required role. Roles
// sharing a rank, such as qa_manual and qa_automation, satisfy each other.
//
// # Architecture boundaries
//
// This package is a pure in-memory structure with no I/O. It must not import
// qauth, jwt or session; callers translate their claims into a [Grant].
package permission
