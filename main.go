package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/treemana/dnsproxy/cache"
	"github.com/treemana/dnsproxy/config"
	"github.com/treemana/dnsproxy/log"
	"github.com/treemana/dnsproxy/model"
	"github.com/treemana/dnsproxy/policy"
	"github.com/treemana/dnsproxy/udp"
	"github.com/treemana/dnsproxy/upstream"
)

func main() {
	path := config.DefaultPath
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	option, err := config.Load(path)
	if err != nil {
		fmt.Println("config error", err)
		os.Exit(1)
	}

	if err = initLog(option); err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	var server *udp.Server
	if server, err = initServer(option); err != nil {
		var be *model.BindError
		if errors.As(err, &be) && be.Permission {
			log.Sugar.Errorf("%v, binding port %d usually needs root", err, option.Server.Port)
		} else {
			log.Sugar.Error(err)
		}
		log.Sync()
		os.Exit(1)
	}

	server.Start()

	// dnsproxy is running until os exit
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	s := <-sc
	log.Sugar.Infof("signal %d %s", s, s)

	server.Stop()
	log.Sugar.Info("shutdown dns server")
}

func initLog(option *config.Config) error {
	lc := log.Config{
		File:       option.Log.File,
		STDOUT:     option.Log.STDOUT,
		Level:      option.LogLevel(),
		MaxAge:     option.Log.MaxAge,
		MaxSize:    option.Log.MaxSize,
		MaxBackups: option.Log.MaxBackups,
		JsonFormat: option.Log.JSON,
	}

	if err := log.Init(lc); err != nil {
		fmt.Println("log init error", err)
		return err
	}

	return nil
}

func initServer(option *config.Config) (*udp.Server, error) {
	sc := udp.Configure{
		Host:    option.Server.Host,
		Port:    option.Server.Port,
		ProxyIP: option.ProxyAddr(),
	}

	if !option.Passthrough.Enabled {
		return udp.New(sc, nil)
	}

	up, err := upstream.New(upstream.Configure{
		Nameservers: option.Upstream.Nameservers,
		Timeout:     option.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	p := policy.NewPassthrough(option.ProxyAddr(), cache.New(up), option.Passthrough.SkipHosts)

	return udp.New(sc, p)
}
