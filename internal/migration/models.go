package migration

import (
	ingestdomain "github.com/smallbiznis/corehours/internal/ingest/domain"
	jobdomain "github.com/smallbiznis/corehours/internal/job/domain"
	mappingdomain "github.com/smallbiznis/corehours/internal/mapping/domain"
	userdomain "github.com/smallbiznis/corehours/internal/user/domain"
	walletdomain "github.com/smallbiznis/corehours/internal/wallet/domain"
	"gorm.io/gorm"
)

// Models lists every table owned by the application.
func Models() []any {
	return []any{
		&walletdomain.Wallet{},
		&userdomain.User{},
		&mappingdomain.GroupToGroupMapping{},
		&mappingdomain.GroupToWalletMapping{},
		&mappingdomain.UserToWalletMapping{},
		&mappingdomain.GroupToUserMapping{},
		&jobdomain.Job{},
		&ingestdomain.ProcessedFile{},
	}
}

// AutoMigrate creates the schema from the gorm models. Used for sqlite and
// mysql, and by tests.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
