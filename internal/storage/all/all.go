// Package all registers every storage backend with the factory. Binaries
// blank-import it so config alone selects the backend at runtime.
package all

import (
	_ "xmlsift/internal/storage/mssql"
	_ "xmlsift/internal/storage/postgres"
	_ "xmlsift/internal/storage/sqlite"
)
