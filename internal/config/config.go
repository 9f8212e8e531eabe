package config

import (
	"errors"
	"io/fs"
	"log"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTP       HTTP
	DB         DB
	Redis      Redis
	Paths      Paths
	Browser    Browser
	Scheduler  Scheduler
	Login      Login
	Validation Validation
	Log        Log
}

type HTTP struct {
	Port            int           `env:"HTTP_Port" envDefault:"5409"`
	ShutdownTimeout time.Duration `env:"HTTP_ShutdownTimeout" envDefault:"10s"`
}

type DB struct {
	DSN string `env:"DB_DSN"`
}

// Redis is optional. An empty Addr runs without the sweep lease.
type Redis struct {
	Addr     string        `env:"Redis_Address"`
	Password string        `env:"Redis_Password"`
	DB       int           `env:"Redis_DB"`
	LeaseKey string        `env:"Redis_LeaseKey" envDefault:"omnipost:sweep"`
	LeaseTTL time.Duration `env:"Redis_LeaseTTL" envDefault:"30m"`
}

type Paths struct {
	DataDir    string `env:"Paths_DataDir" envDefault:"data"`
	CookiesDir string `env:"Paths_CookiesDir"`
	VideosDir  string `env:"Paths_VideosDir"`
}

type Browser struct {
	ExecPath  string `env:"Browser_ExecPath"`
	Headless  bool   `env:"Browser_Headless" envDefault:"true"`
	UserAgent string `env:"Browser_UserAgent"`
}

type Scheduler struct {
	Enabled     bool          `env:"Scheduler_Enabled" envDefault:"true"`
	Interval    time.Duration `env:"Scheduler_Interval" envDefault:"4h"`
	StaleAfter  time.Duration `env:"Scheduler_StaleAfter" envDefault:"24h"`
	Concurrency int64         `env:"Scheduler_Concurrency" envDefault:"2"`
	Pace        time.Duration `env:"Scheduler_Pace" envDefault:"2s"`
}

type Login struct {
	Timeout time.Duration `env:"Login_Timeout" envDefault:"30s"`
	QRWait  time.Duration `env:"Login_QRWait" envDefault:"10s"`
}

type Validation struct {
	ProbeWait time.Duration `env:"Validation_ProbeWait" envDefault:"5s"`
	Cooldown  time.Duration `env:"Validation_Cooldown" envDefault:"5m"`
}

type Log struct {
	Level  string `env:"Log_Level" envDefault:"info"`
	Pretty bool   `env:"Log_Pretty"`
}

// Parse reads an optional .env file and then the environment. Directories
// left blank are derived from Paths.DataDir.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, err
	}
	c.fill()
	return &c, nil
}

func Load() *Config {
	c, err := Parse()
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func (c *Config) fill() {
	if c.DB.DSN == "" {
		c.DB.DSN = "file:" + filepath.Join(c.Paths.DataDir, "omnipost.db") + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	if c.Paths.CookiesDir == "" {
		c.Paths.CookiesDir = filepath.Join(c.Paths.DataDir, "cookiesFile")
	}
	if c.Paths.VideosDir == "" {
		c.Paths.VideosDir = filepath.Join(c.Paths.DataDir, "videoFile")
	}
	if c.Scheduler.Concurrency < 1 {
		c.Scheduler.Concurrency = 1
	}
	if c.Scheduler.Interval <= 0 {
		c.Scheduler.Interval = 4 * time.Hour
	}
}
