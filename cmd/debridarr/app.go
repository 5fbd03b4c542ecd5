package main

import (
	"github.com/amaumene/debridarr/internal/api"
	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/controllers"
	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/scheduler"
	"github.com/amaumene/debridarr/internal/services/notify"
	"github.com/rs/zerolog"
)

// App is the fully wired application
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	DB        *models.Database
	Pipeline  *scheduler.Pipeline
	Scheduler *scheduler.Scheduler
	Server    *api.Server
	Notifier  *notify.Notifier
	Admin     *controllers.Admin
	Tracing   tracing
}
