package db

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"distmaster/pkg/model"
)

// Init connects to MySQL and migrates the management API models. The
// database itself must already exist. Connection details come from MYSQL_DSN
// or, when unset, the individual MYSQL_HOST/PORT/USER/PASS/DB variables.
func Init() (*gorm.DB, error) {
	_ = loadDotEnv()

	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			getenv("MYSQL_USER", "root"),
			getenv("MYSQL_PASS", ""),
			getenv("MYSQL_HOST", "127.0.0.1"),
			getenv("MYSQL_PORT", "3306"),
			getenv("MYSQL_DB", "distmaster"))
	}

	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("mysql open: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)

	if err := gdb.AutoMigrate(&model.User{}); err != nil {
		return nil, fmt.Errorf("mysql migrate: %w", err)
	}
	return gdb, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}
