package main

import (
	"strings"
	"sync"

	"rollcall/internal/attribution"
	"rollcall/internal/classify"
	"rollcall/internal/config"
	"rollcall/internal/diarize"
	"rollcall/internal/feedback"
	"rollcall/internal/hints"
	"rollcall/internal/library"
	"rollcall/internal/logging"
	"rollcall/internal/queue"
	"rollcall/internal/storage"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		if c.config != nil {
			return
		}
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// stores bundles the sub-stores that share the one database handle. All CLI
// commands read and write the database directly; SQLite WAL mode plus the
// storage busy-retry keep this safe alongside a running daemon.
type stores struct {
	db          *storage.DB
	queue       *queue.Store
	library     *library.Store
	signals     *hints.Store
	proposals   *classify.Store
	attribution *attribution.Store
}

func (c *commandContext) withStores(fn func(*stores) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	db, err := storage.Open(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(&stores{
		db:          db,
		queue:       queue.NewStore(db, cfg),
		library:     library.NewStore(db, cfg),
		signals:     hints.NewStore(db),
		proposals:   classify.NewStore(db),
		attribution: attribution.NewStore(db),
	})
}

// feedbackWriter builds the review-decision writer over CLI-owned stores.
// Harvest output from interactive commands is reported on stdout, so the
// writer logs nowhere.
func (c *commandContext) feedbackWriter(s *stores) *feedback.Writer {
	cfg := c.configValue()
	engine := diarize.NewExecEngine(cfg)
	return feedback.NewWriter(cfg, s.signals, s.library, s.proposals, engine, logging.NewNop())
}
