// Package main — утилита миграций.
//
//	migrate up                 применить новые миграции
//	migrate create <описание>  создать пустой файл миграции
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/redaxedvg/ebisu/internal/config"
	"github.com/redaxedvg/ebisu/internal/db/postgres"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	log.SetOutput(os.Stdout)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Не удалось прочитать .env")
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "up":
		err = up()
	case "create":
		if len(os.Args) < 3 {
			usage()
			os.Exit(1)
		}
		err = create(strings.Join(os.Args[2:], " "))
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.WithError(err).Error("Миграция не выполнена")
		os.Exit(1)
	}
}

func up() error {
	cfg, err := config.LoadDatabase()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := postgres.RunMigrations(ctx, pool)
	if err != nil {
		return err
	}
	log.WithField("applied", applied).Info("Миграции применены")
	return nil
}

func create(description string) error {
	path, err := postgres.CreateMigration(postgres.MigrationsDir, description, time.Now().UTC())
	if err != nil {
		return err
	}
	log.WithField("file", path).Info("Создан файл миграции")
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: migrate up | migrate create <description>")
}
