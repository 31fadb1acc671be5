package model

import "regexp"

// TenantIDPattern is the syntactic contract every tenant_id must satisfy
// before it ever reaches the vector store or the relational schema.
var TenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// ValidTenantID reports whether id is a syntactically valid tenant_id.
func ValidTenantID(id string) bool {
	return TenantIDPattern.MatchString(id)
}
