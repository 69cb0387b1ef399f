package handler

import (
	"pairgo/backend/internal/bot"
	"pairgo/backend/internal/config"
	"pairgo/backend/internal/realtime"
	"pairgo/backend/internal/storage"
)

// Handler holds the dependencies every per-connection session controller is
// wired with.
type Handler struct {
	Cfg   *config.Config
	Store storage.Storage
	Feed  realtime.Feed
	Bots  *bot.Factory
}

func NewHandler(cfg *config.Config, store storage.Storage, feed realtime.Feed, bots *bot.Factory) *Handler {
	return &Handler{Cfg: cfg, Store: store, Feed: feed, Bots: bots}
}
