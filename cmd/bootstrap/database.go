package bootstrap

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"

	"github.com/vivica-app/Vivica/internal/models"
	"github.com/vivica-app/Vivica/pkg/config"
	"github.com/vivica-app/Vivica/pkg/logger"
)

// Options 数据库初始化行为
type Options struct {
	// AutoMigrate 是否执行实体迁移（默认 true）
	AutoMigrate bool
	// SeedPersonas 是否播种内置人格（默认 true）
	SeedPersonas bool
}

// SetupDatabase 统一入口：连接数据库 -> 迁移实体 -> 播种内置人格
func SetupDatabase(logWriter io.Writer, opts *Options) (*gorm.DB, error) {
	if opts == nil {
		opts = &Options{AutoMigrate: true, SeedPersonas: true}
	}

	db, err := initDBConn(logWriter)
	if err != nil {
		logger.Error("init database failed", zap.Error(err))
		return nil, err
	}

	if opts.AutoMigrate {
		if err := models.Migrate(db); err != nil {
			logger.Error("migration failed", zap.Error(err))
			return nil, err
		}
		logger.Info("migration success",
			zap.String("database", config.GlobalConfig.DBDriver),
			zap.String("dsn", config.GlobalConfig.DSN),
		)
	}

	if opts.SeedPersonas {
		if err := models.EnsureDefaultPersonas(db); err != nil {
			logger.Error("seed personas failed", zap.Error(err))
			return nil, err
		}
	}

	logger.Info("database initialization complete")
	return db, nil
}

// initDBConn 按全局配置创建 *gorm.DB
func initDBConn(logWriter io.Writer) (*gorm.DB, error) {
	driver := config.GlobalConfig.DBDriver
	if driver != "" && driver != "sqlite" {
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	dsn := config.GlobalConfig.DSN
	if dsn == "" {
		dsn = "./vivica.db"
	}

	var gormLogger glog.Interface
	if logWriter != nil {
		gormLogger = glog.New(
			log.New(logWriter, "", log.LstdFlags),
			glog.Config{
				SlowThreshold:             200 * time.Millisecond,
				LogLevel:                  glog.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		)
	} else {
		gormLogger = glog.Discard
	}

	return gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger})
}
