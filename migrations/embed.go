// Package migrations embeds the SQL applied by the migrator. Tenant files run
// once per clinic schema; shared files run once against the shared schema.
package migrations

import "embed"

//go:embed tenant/*.sql shared/*.sql
var FS embed.FS

const (
	TenantDir = "tenant"
	SharedDir = "shared"
)
