package main

import (
	"time"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/config"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/database"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/kvstore"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/progress"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/records"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/server"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/users"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// application wires the storage, record store and progress components shared by every command.
type application struct {
	config     config.AppConfig
	logger     *zap.Logger
	db         *gorm.DB
	directory  *users.Directory
	realtime   *server.RealtimeDispatcher
	store      *records.Store
	tracker    *progress.Tracker
	aggregator *progress.Aggregator
}

func openApplication() (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	app := &application{config: appConfig, logger: logger, db: db}
	if err := app.wire(); err != nil {
		app.close()
		return nil, err
	}
	return app, nil
}

func (a *application) wire() error {
	storage, err := kvstore.NewSQLiteStorage(kvstore.SQLiteStorageConfig{
		Database:      a.db,
		Clock:         time.Now,
		WriteAttempts: a.config.WriteAttempts,
		Logger:        a.logger,
	})
	if err != nil {
		return err
	}

	a.directory, err = users.NewDirectory(users.DirectoryConfig{Database: a.db, Clock: time.Now})
	if err != nil {
		return err
	}

	a.realtime = server.NewRealtimeDispatcher()

	a.store, err = records.NewStore(records.StoreConfig{
		Storage:    storage,
		Clock:      time.Now,
		IDProvider: records.NewUUIDProvider(),
		Registry:   a.directory,
		Notifier:   a.realtime,
		Logger:     a.logger,
	})
	if err != nil {
		return err
	}

	a.tracker, err = progress.NewTracker(progress.TrackerConfig{
		Storage: storage,
		Source:  a.store,
		Clock:   time.Now,
		Logger:  a.logger,
	})
	if err != nil {
		return err
	}

	a.aggregator, err = progress.NewAggregator(progress.AggregatorConfig{
		Source:   a.store,
		Tracker:  a.tracker,
		Window:   a.config.ProgressWindow,
		Location: a.config.ProgressLocation,
		Logger:   a.logger,
	})
	return err
}

func (a *application) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}
