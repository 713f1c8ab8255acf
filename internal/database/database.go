package database

import (
	"fmt"

	"stock_reservation/internal/model"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open 按驱动名打开数据库并自动建表。
// sqlite 只允许单连接：SQLite 没有行锁，串行化写事务保证结算扣减的隔离性。
func Open(driver, dsn string, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("db handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Info("database ready", zap.String("driver", driver))
	return db, nil
}

// Migrate 创建 products / orders / order_events 表。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.Product{}, &model.Order{}, &model.OrderEvent{}); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	return nil
}

// Close 释放底层连接池。
func Close(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Error("db handle", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Error("db close", zap.Error(err))
	}
}
