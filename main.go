package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/s00inx/webserv/server/db"
	"github.com/s00inx/webserv/server/engine"
	"github.com/s00inx/webserv/server/logging"
	"github.com/s00inx/webserv/server/protocol"
)

func main() {
	port := flag.Int("port", 1316, "listen port (1024-65535)")
	trigMode := flag.Int("trig", 3, "trigger mode: 0 LT/LT, 1 conn ET, 2 listen ET, 3 ET/ET")
	timeoutMS := flag.Int("timeout", 60000, "idle connection timeout in ms, 0 disables reaping")
	optLinger := flag.Bool("linger", false, "enable SO_LINGER on the listener")
	srcDir := flag.String("root", "", "static file root (default <cwd>/resources)")
	workers := flag.Int("workers", 6, "worker goroutine count")

	sqlHost := flag.String("sql-host", "localhost", "mysql host")
	sqlPort := flag.Int("sql-port", 3306, "mysql port")
	sqlUser := flag.String("sql-user", "root", "mysql user")
	sqlPwd := flag.String("sql-pwd", "root", "mysql password")
	dbName := flag.String("db", "webserv", "mysql database name")
	sqlPoolNum := flag.Int("sql-pool", 12, "mysql pool size")

	openLog := flag.Bool("log", true, "enable logging")
	logLevel := flag.Int("log-level", 1, "log level: 0 debug, 1 info, 2 warn, 3 error")
	logQueSize := flag.Int("log-queue", 1024, "async log queue capacity, 0 logs synchronously")
	logDir := flag.String("log-dir", "./log", "log directory, empty logs to stdout")
	flag.Parse()

	log, err := logging.New(logging.Options{
		Enabled:  *openLog,
		Level:    *logLevel,
		Dir:      *logDir,
		QueueCap: *logQueSize,
	})
	if err != nil {
		os.Stderr.WriteString("logging init: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Close()

	var verify protocol.Verifier
	users, err := db.Open(db.Config{
		Host:     *sqlHost,
		Port:     *sqlPort,
		User:     *sqlUser,
		Password: *sqlPwd,
		Name:     *dbName,
		PoolSize: *sqlPoolNum,
	}, log.Logger)
	if err != nil {
		log.Fatalf("mysql pool init: %v", err)
	}
	defer users.Close()
	verify = users

	srv, err := engine.New(engine.Config{
		Port:      *port,
		TrigMode:  *trigMode,
		TimeoutMS: *timeoutMS,
		OptLinger: *optLinger,
		SrcDir:    *srcDir,
		Workers:   *workers,
	}, verify, log.Logger)
	if err != nil {
		log.Fatalf("server init: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		srv.Stop()
	}()

	srv.Start()
}
