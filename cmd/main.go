package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chenBenjamin97/traffic-light-visualizer/pkg/api"
	"github.com/chenBenjamin97/traffic-light-visualizer/pkg/approxsync"
	"github.com/chenBenjamin97/traffic-light-visualizer/pkg/utils"
	"github.com/chenBenjamin97/traffic-light-visualizer/pkg/video"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: Could not load .env file, got '%v'", err)
	}

	utils.SetDefaults()
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Fatalf("Error: Could not read config file, got '%v'", err)
		}
		log.Printf("No config file found, using defaults and environment")
	}

	//create missing directories from config file, root first
	for _, dir := range []string{viper.GetString(utils.KeyRootDir), viper.GetString(utils.KeyReadyDir)} {
		if _, err := os.Stat(dir); err != nil {
			if os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0766); err != nil {
					log.Printf("Error Creating '%s' directory, got '%v'", dir, err)
				}
			}
		}
	}

	roughROIColor, err := utils.ParseColor(viper.GetString(utils.KeyRoughROIColor))
	if err != nil {
		log.Fatalf("Error: Invalid '%s', got '%v'", utils.KeyRoughROIColor, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	latest := video.NewLatestFrame(viper.GetDuration(utils.KeyPollTimeout))
	hub := api.NewHub()
	publishers := []video.Publisher{latest, hub}

	if viper.GetBool(utils.KeyRecord) {
		recorder := video.NewRecorder(viper.GetString(utils.KeyReadyDir), viper.GetFloat64(utils.KeyRecordFPS))
		defer recorder.Close()
		publishers = append(publishers, recorder)
	}

	v, err := video.NewVisualizer(video.Options{
		EnableFineDetection: viper.GetBool(utils.KeyEnableFineDetection),
		Sync: approxsync.Options{
			QueueSize:   viper.GetInt(utils.KeySyncQueueSize),
			MaxInterval: viper.GetDuration(utils.KeySyncMaxInterval),
			AgePenalty:  viper.GetFloat64(utils.KeySyncAgePenalty),
		},
		RoughROIColor: roughROIColor,
		Thickness:     viper.GetInt(utils.KeyRectThickness),
		LazySubscribe: viper.GetBool(utils.KeyLazySubscribe),
	}, publishers...)
	if err != nil {
		log.Fatalf("Error: Got '%v'", err)
	}
	log.Printf("Visualizer running in %s mode", v.Mode())

	go hub.Run(ctx)
	go v.WatchSubscribers(ctx, viper.GetDuration(utils.KeySubscriberCheckPeriod))

	if command := strings.Fields(viper.GetString(utils.KeyFeedCommand)); len(command) > 0 {
		go func() {
			if err := video.RunFeedCommand(ctx, v, command[0], command[1:]...); err != nil {
				log.Printf("Error: Feed stopped, got '%v'", err)
			}
		}()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	r := api.SetRouter(v, latest, hub)
	go func() {
		if err := r.Run(":" + viper.GetString(utils.KeyHTTPPort)); err != nil {
			log.Fatalf("Error: Got '%v'", err)
		}
	}()

	<-signals
	log.Printf("Shutting down")
}
