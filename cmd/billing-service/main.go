package main

import (
	"flag"
	"os"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"

	"chatpilot/cmd/billing-service/internal/biz"
	"chatpilot/cmd/billing-service/internal/server"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	Name     string = "billing-service"
	Version  string = "v1.0.0"
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/billing-service.yaml", "config path")
}

// newApp 组装应用；清扫器没有对外接口，挂在这里只为绑定生命周期
func newApp(logger log.Logger, hs *server.HTTPServer, _ *biz.ReservationSweeper) *kratos.App {
	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(hs),
	)
}

func main() {
	flag.Parse()

	logger := log.With(log.NewStdLogger(os.Stdout),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
	)

	c := config.New(config.WithSource(file.NewSource(flagconf)))
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var cfg Config
	if err := c.Scan(&cfg); err != nil {
		panic(err)
	}

	app, cleanup, err := wireApp(&cfg, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	log.NewHelper(logger).Infow("msg", "service starting", "name", Name, "version", Version)

	if err := app.Run(); err != nil {
		panic(err)
	}
}
