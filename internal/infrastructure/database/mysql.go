package database

import (
	"fmt"
	"log"
	"time"

	"github.com/NovakDetti/magicfitai-sub001/internal/config"
	"github.com/NovakDetti/magicfitai-sub001/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitMySQL opens the MySQL connection pool and migrates the schema.
func InitMySQL(cfg *config.MySQLConfig) *gorm.DB {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatalf("failed to connect to MySQL: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("failed to get underlying sql.DB: %v", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	DB = db
	log.Println("MySQL connected")
	return db
}

// Migrate creates or updates the tables owned by this service.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.CreditAccount{},
		&model.LedgerEntry{},
		&model.AnalysisSession{},
		&model.OutboxMessage{},
	)
}
